package cli

import (
	"github.com/spf13/cobra"

	"github.com/joinhall/lobbysync/internal/lobby"
)

func newJoinCmd() *cobra.Command {
	var spectator bool

	cmd := &cobra.Command{
		Use:   "join <code>",
		Short: "Join a room by its code and run an interactive session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			room, err := app.Client.JoinRoomByCode(cmd.Context(), args[0], lobby.JoinParams{
				Name:      cfg.Name,
				Spectator: spectator,
			})
			if err != nil {
				return err
			}

			return runSession(cmd.Context(), app.Client, room)
		},
	}

	cmd.Flags().BoolVar(&spectator, "spectator", false, "Join as a spectator")

	return cmd
}

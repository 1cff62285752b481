package cli

import (
	"github.com/spf13/cobra"

	"github.com/joinhall/lobbysync/internal/lobby"
)

func newHostCmd() *cobra.Command {
	var (
		maxPlayers int
		private    bool
	)

	cmd := &cobra.Command{
		Use:   "host",
		Short: "Create a room and run an interactive session as its host",
		RunE: func(cmd *cobra.Command, args []string) error {
			room, err := app.Client.CreateRoom(cmd.Context(), lobby.CreateParams{
				Name:       cfg.Name,
				MaxPlayers: maxPlayers,
				Private:    private,
			})
			if err != nil {
				return err
			}

			return runSession(cmd.Context(), app.Client, room)
		},
	}

	cmd.Flags().IntVar(&maxPlayers, "max-players", 0, "Player cap (default: 8)")
	cmd.Flags().BoolVar(&private, "private", false, "Mark the room private")

	return cmd
}

package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/joinhall/lobbysync/internal/joincode"
)

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <code>",
		Short: "Resolve a join code to its room id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := joincode.Normalize(args[0])
			if err != nil {
				return err
			}

			logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
			codes := joincode.New(app.Store, app.Clock, app.Random, logger)
			roomID, err := codes.Resolve(cmd.Context(), code)
			if err != nil {
				return err
			}

			out := NewOutput(cfg.Output)
			out.PrintMessage(fmt.Sprintf("Room: %s", roomID))
			return nil
		},
	}
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"secretsanta/pkg/requestcontext"
)

func drawCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "draw <email>",
		Short: "Draw a match for a participant, as the participant would",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := commonRun()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := requestcontext.WithRequestID(cmd.Context(), "cli")
			match, err := a.exchange.Draw(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s gives to %s (%s)\n", match.Giver, match.ReceiverDisplayName, match.Receiver)
			return nil
		},
	}
}

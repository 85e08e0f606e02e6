package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"whip/internal/client"
	"whip/internal/command"
)

func newTriggerCmd() *cobra.Command {
	var (
		baseURL  string
		token    string
		duration int
		side     string
	)

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Trigger a whip command via the REST API",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireFlags(cmd, "token", "duration"); err != nil {
				return err
			}
			if !command.ValidDuration(duration) {
				return &exitError{code: 2, msg: "Duration must be between 1 and 60 seconds"}
			}
			req := command.Request{Duration: duration}
			if side != "" {
				if !command.Side(side).Valid() {
					return &exitError{code: 2, msg: "Side must be one of left, right, both"}
				}
				req.Side = command.Side(side)
			}

			res, err := client.NewTrigger(baseURL, token).Send(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Response [%d]: %s\n", res.StatusCode, res.Body)
			if !res.OK() {
				return &exitError{code: 1}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "http://localhost:8080", "server base URL")
	cmd.Flags().StringVar(&token, "token", "", "bearer token matching the WebSocket listener (required)")
	cmd.Flags().IntVar(&duration, "duration", 0, "duration in seconds, 1..60 (required)")
	cmd.Flags().StringVar(&side, "side", "", "left, right or both (server default: both)")
	return cmd
}

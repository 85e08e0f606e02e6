package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"whip/internal/client"
)

func newListenCmd() *cobra.Command {
	var (
		wsURL string
		token string
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Connect to the relay WebSocket and print received commands",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if token == "" {
				t, err := client.NewToken()
				if err != nil {
					return err
				}
				token = t
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Using token: %s\n", token)
			fmt.Fprintln(out, "Connect REST callers with Authorization: Bearer <token>")
			fmt.Fprintln(out)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			l := &client.Listener{URL: wsURL, Token: token, Out: out}
			return l.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&wsURL, "ws-url", "ws://localhost:8080/ws", "relay WebSocket URL")
	cmd.Flags().StringVar(&token, "token", "", "bearer token to register (default: a fresh random token)")
	return cmd
}

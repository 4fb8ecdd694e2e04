package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"campus-ticket/config"
	"campus-ticket/pkg/ticketclient"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// reconcileCommand runs one stale payment sweep and prints the report.
func reconcileCommand(build func() (*stack, error), logger *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:          "reconcile",
		Short:        "Sweep stale pending payments once against the gateway",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := build()
			if err != nil {
				return err
			}
			defer s.redis.Close()

			report, err := s.recon.SweepStale(cmd.Context())
			if err != nil {
				return err
			}

			logger.Info("sweep finished",
				zap.Int("scanned", report.Scanned),
				zap.Int("completed", report.Completed),
				zap.Int("expired", report.Expired),
				zap.Int("skipped", report.Skipped),
			)
			return printJSON(report)
		},
	}
}

func awaitPaymentCommand(cfg *config.Config, logger *zap.Logger) *cobra.Command {
	var (
		baseURL  string
		token    string
		attempts int
		interval time.Duration
	)

	command := &cobra.Command{
		Use:          "await-payment <paymentId>",
		Short:        "Poll a payment's status until it settles",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				token = os.Getenv("CAMPUS_TICKET_TOKEN")
			}

			client := ticketclient.New(ticketclient.Options{
				BaseURL:      baseURL,
				Token:        token,
				MaxAttempts:  attempts,
				PollInterval: interval,
				Logger:       logger,
			})

			res, err := client.AwaitPayment(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("await payment %s: %w", args[0], err)
			}
			return printJSON(res)
		},
	}

	command.Flags().StringVar(&baseURL, "url", cfg.AppBaseURL, "campus-ticket base URL")
	command.Flags().StringVar(&token, "token", "", "auth token (defaults to $CAMPUS_TICKET_TOKEN)")
	command.Flags().IntVar(&attempts, "attempts", 20, "maximum status requests")
	command.Flags().DurationVar(&interval, "interval", 3*time.Second, "delay between pending responses")

	return command
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

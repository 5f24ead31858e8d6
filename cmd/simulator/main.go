package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ukydev/fleet-simulator/internal/auth"
	"github.com/ukydev/fleet-simulator/internal/config"
)

func newRootCommand() *cobra.Command {
	var configFile, envFile string

	cmd := &cobra.Command{
		Use:          "fleet-simulator",
		Short:        "Simulate a vehicle fleet and report its telemetry",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile, envFile)
			if err != nil {
				return err
			}
			if err := config.SetupLogging(cfg.Log); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default ./fleetsim.yaml when present)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	cmd.AddCommand(newTokenCommand(&configFile, &envFile))
	return cmd
}

// newTokenCommand mints an operator token for the ops API.
func newTokenCommand(configFile, envFile *string) *cobra.Command {
	var subject, role string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a bearer token for the ops API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configFile, *envFile)
			if err != nil {
				return err
			}
			svc, err := auth.NewService(cfg.Ops.JWTSecret, ttl, "fleet-simulator")
			if err != nil {
				return fmt.Errorf("ops.jwt_secret: %w", err)
			}
			token, err := svc.GenerateToken(subject, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().StringVar(&role, "role", auth.RoleOperator, "token role")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTokenExpiry, "token lifetime")
	return cmd
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		log.WithError(err).Error("Simulator exited")
		os.Exit(1)
	}
}

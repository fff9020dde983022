package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/eventgate/common/config"
	"github.com/telhawk-systems/eventgate/common/messaging"
	"github.com/telhawk-systems/eventgate/eventgate/internal/ctl/output"
	"github.com/telhawk-systems/eventgate/eventgate/internal/repository"

	natsclient "github.com/telhawk-systems/eventgate/common/messaging/nats"
)

var cfg *config.CLIConfig

// Connections are opened through these so tests can substitute fakes.
var (
	openStore = func(ctx context.Context, databaseURL string) (repository.Store, error) {
		return repository.NewPostgresStore(ctx, databaseURL, repository.PoolConfig{MaxConns: 2})
	}
	connectJetStream = func(natsURL string) (jetStreamClient, error) {
		nc := natsclient.DefaultConfig()
		nc.URL = natsURL
		nc.Name = "eventgatectl"
		nc.MaxReconnects = 0
		return natsclient.NewJetStreamClient(nc)
	}
)

// jetStreamClient is what commands need from a broker connection.
type jetStreamClient interface {
	messaging.Publisher
	Drain() error
}

var rootCmd = &cobra.Command{
	Use:   "eventgatectl",
	Short: "eventgate operator CLI",
	Long: `eventgatectl is the command-line interface for eventgate.

Publish and seed events, inspect the event store, reclaim stuck events,
review dead letters and manage schema migrations.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		output.New(output.FormatTable).Error("%v", err)
	}
	return err
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("profile", "", "profile to use (default: current profile)")
	rootCmd.PersistentFlags().StringP("output", "o", "table", "output format: table, json, yaml")
	rootCmd.PersistentFlags().String("nats-url", "", "NATS server URL (overrides profile)")
	rootCmd.PersistentFlags().String("database-url", "", "PostgreSQL URL (overrides profile)")
}

func initConfig() {
	if cfg != nil {
		return
	}
	var err error
	cfg, err = config.LoadCLI()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg = config.DefaultCLI()
	}
}

// activeProfile resolves the selected profile with flag overrides applied.
func activeProfile(cmd *cobra.Command) *config.CLIProfile {
	name, _ := cmd.Flags().GetString("profile")
	p := cfg.Profile(name)

	if v, _ := cmd.Flags().GetString("nats-url"); v != "" {
		p.NATSURL = v
	}
	if v, _ := cmd.Flags().GetString("database-url"); v != "" {
		p.DatabaseURL = v
	}
	return p
}

func printer(cmd *cobra.Command) (*output.Printer, error) {
	v, _ := cmd.Flags().GetString("output")
	format, err := output.ParseFormat(v)
	if err != nil {
		return nil, err
	}
	return &output.Printer{Out: cmd.OutOrStdout(), Err: cmd.ErrOrStderr(), Format: format}, nil
}

func storeFor(cmd *cobra.Command) (repository.Store, error) {
	p := activeProfile(cmd)
	if strings.TrimSpace(p.DatabaseURL) == "" {
		return nil, fmt.Errorf("database URL is required (use --database-url or a profile)")
	}
	store, err := openStore(cmd.Context(), p.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open event store: %w", err)
	}
	return store, nil
}

func brokerFor(cmd *cobra.Command) (jetStreamClient, error) {
	p := activeProfile(cmd)
	if strings.TrimSpace(p.NATSURL) == "" {
		return nil, fmt.Errorf("NATS URL is required (use --nats-url or a profile)")
	}
	js, err := connectJetStream(p.NATSURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return js, nil
}

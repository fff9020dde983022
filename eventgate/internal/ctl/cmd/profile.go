package cmd

import (
	"github.com/spf13/cobra"

	"github.com/telhawk-systems/eventgate/common/config"
	"github.com/telhawk-systems/eventgate/eventgate/internal/ctl/output"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage connection profiles",
}

var profileSetCmd = &cobra.Command{
	Use:     "set NAME",
	Short:   "Create or update a profile and make it current",
	Example: `  eventgatectl profile set staging --nats-url nats://staging:4222 --database-url postgres://eventgate@staging/eventgate`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		p := &config.CLIProfile{}
		if existing, ok := cfg.Profiles[name]; ok && existing != nil {
			*p = *existing
		}
		if v, _ := cmd.Flags().GetString("nats-url"); v != "" {
			p.NATSURL = v
		}
		if v, _ := cmd.Flags().GetString("database-url"); v != "" {
			p.DatabaseURL = v
		}
		if v, _ := cmd.Flags().GetString("topic"); v != "" {
			p.Topic = v
		}

		out, err := printer(cmd)
		if err != nil {
			return err
		}

		cfg.SetProfile(name, p)
		if err := cfg.Save(); err != nil {
			return err
		}
		out.Success("Profile %s saved to %s", name, cfg.Path())
		return nil
	},
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := printer(cmd)
		if err != nil {
			return err
		}

		name, _ := cmd.Flags().GetString("profile")
		if name == "" {
			name = cfg.CurrentProfile
		}
		p := activeProfile(cmd)

		return out.Print(map[string]string{
			"profile":      name,
			"nats_url":     p.NATSURL,
			"database_url": p.DatabaseURL,
			"topic":        p.Topic,
		}, func() *output.Table {
			t := output.NewTable("PROFILE", "NATS URL", "DATABASE URL", "TOPIC")
			t.AddRow(name, p.NATSURL, p.DatabaseURL, p.Topic)
			return t
		})
	},
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileSetCmd)
	profileCmd.AddCommand(profileShowCmd)

	profileSetCmd.Flags().String("topic", "", "default topic for publish, seed and events get")
}

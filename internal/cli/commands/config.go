package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/objectfs/bucketfs/pkg/errors"
)

const redacted = "REDACTED"

func newConfigCommand(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or write configuration files",
	}
	cmd.AddCommand(newConfigShowCommand(global), newConfigInitCommand(global))
	return cmd
}

func newConfigShowCommand(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Prints the configuration after defaults, the config file, BUCKETFS_*
environment variables and flags have been applied. Credentials are redacted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Flags(), global)
			if err != nil {
				return err
			}
			shown := *cfg
			if shown.Store.SecretAccessKey != "" {
				shown.Store.SecretAccessKey = redacted
			}
			if shown.Store.SessionToken != "" {
				shown.Store.SessionToken = redacted
			}
			data, err := yaml.Marshal(&shown)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newConfigInitCommand(global *globalOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init <file>",
		Short: "Write a configuration file",
		Long: `Writes the effective configuration (defaults plus any flags given) to
file, creating parent directories as needed.

Examples:
  bucketfs config init ~/.config/bucketfs/config.yaml --bucket my-bucket --region eu-west-1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err == nil && !force {
				return errors.NewError(errors.ErrCodeInvalidConfig, "config file already exists (use --force to overwrite)").
					WithContext("file", path)
			}
			cfg, err := layerConfig(cmd.Flags(), global)
			if err != nil {
				return err
			}
			if err := cfg.SaveToFile(path); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	return cmd
}

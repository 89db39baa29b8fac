package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tallycrm/tally/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage Tally configuration",
		Long:  "Initialize a default configuration file or display the current effective configuration.",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

// ---------- config init ----------

func newConfigInitCmd() *cobra.Command {
	var (
		path  string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default tally.yaml configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(path, force)
		},
	}

	cmd.Flags().StringVar(&path, "path", "tally.yaml", "Where to write the file")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config file")

	return cmd
}

func runConfigInit(path string, force bool) error {
	if force {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", path, err)
		}
	} else if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if err := config.WriteDefault(path); err != nil {
		return err
	}

	fmt.Printf("Created %s\n", path)
	fmt.Println("Set auth.jwt_secret (or TALLY_AUTH_JWT_SECRET), then run 'tally user create' and 'tally serve'.")
	return nil
}

// ---------- config show ----------

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current effective configuration",
		Long:  "Print the configuration tally would run with after merging defaults, the config file and TALLY_* environment variables. Secrets are masked.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow()
		},
	}
}

func runConfigShow() error {
	if file := viper.ConfigFileUsed(); file != "" {
		fmt.Printf("# Config file: %s\n", file)
	} else {
		fmt.Println("# Config file: (none found, using defaults)")
	}

	cfg := config.Default()
	if err := viper.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	out, err := config.Marshal(cfg.Redacted())
	if err != nil {
		return err
	}
	fmt.Print(string(out))

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "\nConfiguration problems:\n%v\n", err)
	}
	return nil
}

package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var versionString = "dev"

// SetVersionInfo sets the version reported by --version.
func SetVersionInfo(v, c, d string) {
	versionString = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

// Execute builds the command tree and runs it against os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd returns a fresh command tree with its own configuration.
func NewRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "finale",
		Short: "finale - fill in your Grand Finale legacy plan from the terminal",
		Long: `finale edits the sections of a Grand Finale legacy plan.

Every edit is saved to a local JSON document so a session can be resumed at
any time. When a remote URL is configured, saves are mirrored to the form API.

Configuration sources (in order of precedence):
  1. Command line flags
  2. FINALE_* environment variables (FINALE_DATA_DIR, FINALE_REMOTE_URL, ...)
  3. A finale.yaml config file in the current directory or ~/.finale`,
		Version:       versionString,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(v)
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (default finale.yaml in . or ~/.finale)")
	flags.StringP("user", "u", "", "user the plan belongs to, usually an email address")
	flags.String("data-dir", defaultDataDir(), "directory holding local plan documents")
	flags.String("remote-url", "", "form API base URL to mirror saves to")
	flags.String("api-token", "", "bearer token for the form API")
	flags.String("catalog", "", "YAML section catalog overriding the built-in one")
	flags.BoolP("verbose", "v", false, "enable debug logging")
	for _, name := range []string{"config", "user", "data-dir", "remote-url", "api-token", "catalog", "verbose"} {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}

	v.SetEnvPrefix("FINALE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root.AddCommand(
		newSectionsCmd(v),
		newShowCmd(v),
		newSetCmd(v),
		newAddCmd(v),
		newUpdateCmd(v),
		newRemoveCmd(v),
		newPrimaryCmd(v),
		newValidateCmd(v),
		newSubmitCmd(v),
		newPhoneCmd(),
	)
	return root
}

func loadConfig(v *viper.Viper) error {
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("finale")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".finale"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && v.GetString("config") == "" {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "grandfinale")
	}
	return ".grandfinale"
}

// Package cli implements askctl, the command-line client of the answering service.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "ASKCTL"

// NewRootCommand builds the askctl command tree. Settings resolve from flags,
// then ASKCTL_* variables, then the optional config file.
func NewRootCommand(out io.Writer) *cobra.Command {
	v := viper.New()
	var cfgFile string

	root := &cobra.Command{
		Use:   "askctl",
		Short: "Client for the verified-rag answering service",
		Long: `askctl sends questions to a verified-rag API and inspects reliability scores.

Answers are only returned when they are grounded in verified evidence; otherwise
the service replies with a fixed "insufficient information" message.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(v, cfgFile)
		},
	}
	root.SetOut(out)
	root.SetErr(out)

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.askctl/config.yaml)")
	root.AddCommand(newAskCommand(v), newScoreCommand(v))
	return root
}

// Execute runs askctl against os.Args.
func Execute() error {
	return NewRootCommand(os.Stdout).Execute()
}

func initConfig(v *viper.Viper, cfgFile string) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", cfgFile, err)
		}
		return nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	v.AddConfigPath(home + "/.askctl")
	v.SetConfigType("yaml")
	v.SetConfigName("config")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// Package cli implements the focus command line client.
package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/workaholi/focusroom/internal/profile"
)

// Configuration keys. Each is also read from FOCUS_<KEY>, with dots
// replaced by underscores.
const (
	keyServer  = "server"
	keyToken   = "token"
	keyBots    = "bots"
	keyLogFile = "log_file"
)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	cfg := viper.New()
	cfg.SetEnvPrefix("FOCUS")
	cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cfg.AutomaticEnv()
	cfg.SetDefault(keyBots, 0)
	cfg.SetDefault(keyLogFile, "focus.log")

	rootCmd := &cobra.Command{
		Use:   "focus",
		Short: "Shared focus sessions in the terminal",
		Long: "focus joins a short shared focus session with up to three other people. " +
			"Each participant's activity drives a live focus score everyone can see, " +
			"and participants can nudge each other with pings.",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTUI(cmd, cfg)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String(keyServer, "", "focusd base URL, e.g. http://127.0.0.1:8080 (empty runs a local room)")
	flags.String(keyToken, "", "focusd auth token")
	flags.String("profile", "", "path of the profile file")
	rootCmd.Flags().Int(keyBots, 0, "simulated participants in a local room")
	rootCmd.Flags().String("log-file", "", "where to write logs while the TUI is running")

	_ = cfg.BindPFlag(keyServer, flags.Lookup(keyServer))
	_ = cfg.BindPFlag(keyToken, flags.Lookup(keyToken))
	_ = cfg.BindPFlag(profile.PathKey, flags.Lookup("profile"))
	_ = cfg.BindPFlag(keyBots, rootCmd.Flags().Lookup(keyBots))
	_ = cfg.BindPFlag(keyLogFile, rootCmd.Flags().Lookup("log-file"))

	rootCmd.AddCommand(
		newVersionCmd(),
		newProfileCmd(cfg),
		newSessionsCmd(cfg),
		newHealthCmd(cfg),
	)

	return rootCmd
}

// Package cmd implements the livecap CLI using cobra.
package cmd

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"livecap/internal/config"
)

var (
	// Global flags
	configFile string
	debug      bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "livecap",
	Short: "Live packet capture over WebSocket",
	Long: `livecap runs tshark captures on behalf of WebSocket clients.

Each client connection owns one capture session: it starts, pauses, resumes
and stops a capture, receives every decoded packet as it arrives and can
export the buffered packets as JSON or CSV next to the native capture file.`,
	SilenceUsage: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		if debug {
			log.SetLevel(log.DebugLevel)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (YAML); LIVECAP_* environment variables override it")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false,
		"enable debug output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(interfacesCmd)
	rootCmd.AddCommand(configCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if debug {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

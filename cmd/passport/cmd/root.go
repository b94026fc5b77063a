package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "passport",
	Short: "Passport is a single sign-on session server",
	Long: `Passport serves a shared login session to a fleet of broker
applications. Brokers attach their local sessions with a checksum-signed
handshake and authenticate users against the server-owned session.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
}

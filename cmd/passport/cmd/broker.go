package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okulov/passport/checksum"
	"github.com/okulov/passport/registry"
	boltregistry "github.com/okulov/passport/registry/bolt"
)

var brokerSecret string

var brokerCmd = &cobra.Command{
	Use:   "broker",
	Short: "Manage registered brokers",
}

func openRegistry() (*boltregistry.Registry, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return boltregistry.Open(cfg.BrokersDB, boltregistry.Config{})
}

var brokerAddCmd = &cobra.Command{
	Use:   "add <id>",
	Short: "Register a broker, minting a secret unless one is given",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openRegistry()
		if err != nil {
			return err
		}
		defer reg.Close()

		secret := brokerSecret
		if secret == "" {
			secret, err = checksum.RandomToken()
			if err != nil {
				return fmt.Errorf("failed to mint broker secret: %w", err)
			}
		}
		if err := reg.Put(registry.Broker{ID: args[0], Secret: secret}); err != nil {
			return fmt.Errorf("failed to register broker: %w", err)
		}
		// Shown once. The registry is the only other place it exists.
		fmt.Printf("Registered broker %q\nSecret: %s\n", args[0], secret)
		return nil
	},
}

var brokerRemoveCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove a registered broker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openRegistry()
		if err != nil {
			return err
		}
		defer reg.Close()

		if err := reg.Delete(args[0]); err != nil {
			return fmt.Errorf("failed to remove broker: %w", err)
		}
		fmt.Printf("Removed broker %q\n", args[0])
		return nil
	},
}

var brokerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered broker ids",
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := openRegistry()
		if err != nil {
			return err
		}
		defer reg.Close()

		ids, err := reg.List()
		if err != nil {
			return fmt.Errorf("failed to list brokers: %w", err)
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(brokerCmd)
	brokerCmd.AddCommand(brokerAddCmd, brokerRemoveCmd, brokerListCmd)
	brokerAddCmd.Flags().StringVar(&brokerSecret, "secret", "", "Broker secret (minted when empty)")
}

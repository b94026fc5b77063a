package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okulov/passport/users"
)

var hashCmd = &cobra.Command{
	Use:   "hash <password>",
	Short: "Hash a password for the users file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		encoded, err := users.HashPassword(args[0])
		if err != nil {
			return fmt.Errorf("hashing failed: %w", err)
		}
		fmt.Println(encoded)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashCmd)
}

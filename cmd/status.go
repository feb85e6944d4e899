package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configured providers, pairs and cost settings",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initDistill(cmd.Context(), "generate")
		if err != nil {
			return err
		}
		defer env.Close()

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"providers": env.Manager.Providers(),
			"status":    env.Manager.Status(),
		})
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

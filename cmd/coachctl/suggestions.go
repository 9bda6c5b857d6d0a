package main

import (
	"net/http"

	"github.com/spf13/cobra"
)

func newSuggestionsCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "suggestions",
		Short: "Show coaching suggestions for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd.OutOrStdout(), http.MethodGet, appPath("users", userID, "suggestions"), nil)
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "User ID (required)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

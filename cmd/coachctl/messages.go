package main

import (
	"net/http"

	"github.com/spf13/cobra"
)

func newMessagesCmd() *cobra.Command {
	messagesCmd := &cobra.Command{Use: "messages", Short: "Message operations"}

	var userID string
	pendingCmd := &cobra.Command{
		Use:   "pending",
		Short: "List unread messages for a user, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd.OutOrStdout(), http.MethodGet, appPath("users", userID, "messages", "pending"), nil)
		},
	}
	pendingCmd.Flags().StringVarP(&userID, "user", "u", "", "User ID (required)")
	_ = pendingCmd.MarkFlagRequired("user")

	var readUser string
	readCmd := &cobra.Command{
		Use:   "read MESSAGE_ID",
		Short: "Mark a message as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd.OutOrStdout(), http.MethodPost, appPath("users", readUser, "messages", args[0], "read"), nil)
		},
	}
	readCmd.Flags().StringVarP(&readUser, "user", "u", "", "User ID (required)")
	_ = readCmd.MarkFlagRequired("user")

	messagesCmd.AddCommand(pendingCmd, readCmd)
	return messagesCmd
}

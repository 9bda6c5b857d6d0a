package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

func newEventsCmd() *cobra.Command {
	eventsCmd := &cobra.Command{Use: "events", Short: "Event operations"}

	var userID, name, metadata string
	sendCmd := &cobra.Command{
		Use:   "send",
		Short: "Record an event and print any messages it triggered",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]interface{}{"eventName": name}
			if metadata != "" {
				var m map[string]interface{}
				if err := json.Unmarshal([]byte(metadata), &m); err != nil {
					return fmt.Errorf("--metadata must be a JSON object: %w", err)
				}
				payload["metadata"] = m
			}
			return call(cmd.OutOrStdout(), http.MethodPost, appPath("users", userID, "events"), payload)
		},
	}
	sendCmd.Flags().StringVarP(&userID, "user", "u", "", "User ID (required)")
	sendCmd.Flags().StringVarP(&name, "name", "n", "", "Event name (required)")
	sendCmd.Flags().StringVarP(&metadata, "metadata", "m", "", "Event metadata as a JSON object")
	_ = sendCmd.MarkFlagRequired("user")
	_ = sendCmd.MarkFlagRequired("name")
	eventsCmd.AddCommand(sendCmd)
	return eventsCmd
}

package main

import (
	"net/http"

	"github.com/spf13/cobra"
)

func newRulesCmd() *cobra.Command {
	rulesCmd := &cobra.Command{Use: "rules", Short: "Trigger rule administration"}

	var (
		ruleID, event, body, sender string
		condKey, condValue          string
		repeat, inactive            bool
	)
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a trigger rule",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]interface{}{
				"triggerEvent": event,
				"messageBody":  body,
				"allowRepeat":  repeat,
				"isActive":     !inactive,
			}
			if ruleID != "" {
				payload["ruleId"] = ruleID
			}
			if sender != "" {
				payload["senderName"] = sender
			}
			if condKey != "" {
				payload["conditionKey"] = condKey
				payload["conditionValue"] = condValue
			}
			return call(cmd.OutOrStdout(), http.MethodPost, appPath("rules"), payload)
		},
	}
	createCmd.Flags().StringVar(&ruleID, "id", "", "Rule ID (generated when empty)")
	createCmd.Flags().StringVarP(&event, "event", "e", "", "Trigger event name (required)")
	createCmd.Flags().StringVarP(&body, "body", "b", "", "Message body (required)")
	createCmd.Flags().StringVarP(&sender, "sender", "s", "", "Sender name")
	createCmd.Flags().StringVar(&condKey, "if-key", "", "Metadata key the event must carry")
	createCmd.Flags().StringVar(&condValue, "if-value", "", "Required value for --if-key")
	createCmd.Flags().BoolVar(&repeat, "repeat", false, "Fire on every matching event")
	createCmd.Flags().BoolVar(&inactive, "inactive", false, "Create the rule deactivated")
	_ = createCmd.MarkFlagRequired("event")
	_ = createCmd.MarkFlagRequired("body")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List rules for the app",
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd.OutOrStdout(), http.MethodGet, appPath("rules"), nil)
		},
	}

	deactivateCmd := &cobra.Command{
		Use:   "deactivate RULE_ID",
		Short: "Deactivate a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd.OutOrStdout(), http.MethodPost, appPath("rules", args[0], "deactivate"), nil)
		},
	}

	rulesCmd.AddCommand(createCmd, listCmd, deactivateCmd)
	return rulesCmd
}

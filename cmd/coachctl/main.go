package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	apiFlag string
	appFlag string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "coachctl",
		Short:         "CLI client for the coach service REST API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&apiFlag, "api", "a", "http://localhost:8080", "Coach service base URL")
	root.PersistentFlags().StringVar(&appFlag, "app", "", "App ID (required)")
	_ = root.MarkPersistentFlagRequired("app")

	root.AddCommand(newEventsCmd(), newMessagesCmd(), newRulesCmd(), newSuggestionsCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

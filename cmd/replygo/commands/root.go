// Package commands implements the replygo CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the CLI root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "replygo",
		Short: "replygo - AI reply gateway for customer-service platforms",
		Long: `replygo connects an AI agent to a customer-service platform:
it supervises the platform websocket, classifies inbound messages, answers
them through a Dify app, and re-engages conversations that go quiet.

Examples:
  replygo serve
  replygo conversations list
  replygo auth set dify
  replygo config init`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newConversationsCmd(),
		newAuthCmd(),
		newConfigCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}

package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jholhewres/replygo/pkg/replygo/store"
)

// newConversationsCmd creates the `replygo conversations` command group for
// inspecting and maintaining the conversation store.
func newConversationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"conv"},
		Short:   "Inspect and maintain tracked conversations",
		Long: `Inspect and maintain the conversations the gateway has answered.

Examples:
  replygo conversations list
  replygo conversations show 98765
  replygo conversations reset 98765
  replygo conversations delete 98765`,
	}

	cmd.AddCommand(newConversationsListCmd())
	cmd.AddCommand(newConversationsShowCmd())
	cmd.AddCommand(newConversationsResetCmd())
	cmd.AddCommand(newConversationsDeleteCmd())

	return cmd
}

func newConversationsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tracked conversations, most recent first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			records, err := st.List(context.Background())
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No conversations tracked yet.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tCOUNTERPART\tACTIVATIONS\tAI THREAD\tLAST ACTIVITY")
			for _, rec := range records {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					rec.SessionKey,
					rec.CounterpartID,
					rec.ActivationCount,
					yesNo(rec.AIConversationID != ""),
					humanAge(rec.UpdatedAt),
				)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("\n%d conversation(s)\n", len(records))
			return nil
		},
	}
}

func newConversationsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-key>",
		Short: "Show one conversation record in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			rec, err := st.Get(context.Background(), args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Session key:      %s\n", rec.SessionKey)
			fmt.Printf("Account:          %s\n", rec.AccountID)
			fmt.Printf("Counterpart:      %s\n", rec.CounterpartID)
			if rec.AIConversationID != "" {
				fmt.Printf("AI thread:        %s\n", rec.AIConversationID)
			} else {
				fmt.Printf("AI thread:        (none yet)\n")
			}
			fmt.Printf("Activations:      %d\n", rec.ActivationCount)
			fmt.Printf("Created:          %s\n", rec.CreatedAt.Local().Format(time.RFC3339))
			fmt.Printf("Last activity:    %s (%s)\n",
				rec.UpdatedAt.Local().Format(time.RFC3339), humanAge(rec.UpdatedAt))
			return nil
		},
	}
}

func newConversationsResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <session-key>",
		Short: "Clear the AI thread so the next message starts fresh",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Reset(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Printf("AI thread cleared for %s. The next inbound message starts a new conversation.\n", args[0])
			return nil
		},
	}
}

func newConversationsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-key>",
		Short: "Remove a conversation record entirely",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Delete(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Conversation %s deleted.\n", args[0])
			return nil
		},
	}
}

// openStore resolves config and opens the conversation store at the
// configured path.
func openStore(cmd *cobra.Command) (*store.SQLite, error) {
	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return nil, err
	}
	return store.Open(cfg.Store.Path)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// humanAge renders how long ago t was, coarsely.
func humanAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

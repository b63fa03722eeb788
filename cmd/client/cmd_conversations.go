package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(conversationsCmd, historyCmd)
}

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List conversations with unread counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer s.Close()

		list, err := s.api.ListConversations(cmd.Context())
		if err != nil {
			return fmt.Errorf("list conversations: %w", err)
		}
		if len(list) == 0 {
			fmt.Println("No conversations.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPEER\tUNREAD\tUPDATED")
		for _, c := range list {
			peer := c.PeerName
			if peer == "" {
				peer = c.PeerID
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", c.ID, peer, c.UnreadCount, c.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <conversation_id>",
	Short: "Summarize a conversation's call history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer s.Close()

		sum, err := s.api.CallHistory(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("call history: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "total\t%d\n", sum.TotalCalls)
		fmt.Fprintf(w, "completed\t%d\n", sum.CompletedCalls)
		fmt.Fprintf(w, "canceled\t%d\n", sum.CanceledCalls)
		fmt.Fprintf(w, "rejected\t%d\n", sum.RejectedCalls)
		fmt.Fprintf(w, "missed\t%d\n", sum.MissedCalls)
		fmt.Fprintf(w, "active\t%d\n", sum.ActiveCalls)
		fmt.Fprintf(w, "video\t%d\n", sum.VideoCalls)
		fmt.Fprintf(w, "talk time\t%ds (avg %ds)\n", sum.TotalTalkSeconds, sum.AverageTalkSeconds)
		return w.Flush()
	},
}

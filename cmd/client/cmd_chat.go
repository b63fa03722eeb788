package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"link-platform/internal/chatclient"
	"link-platform/internal/messages"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var chatHistory int

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().IntVar(&chatHistory, "history", 50, "messages to load on open")
}

var chatCmd = &cobra.Command{
	Use:   "chat <conversation_id>",
	Short: "Open a conversation: print messages and send stdin lines",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer s.Close()

		printer := newChatPrinter(s.userID)
		chat := chatclient.NewSync(s.userID, args[0], s.api, s.feed, chatclient.SyncOptions{
			InitialLimit: chatHistory,
			OnChange:     printer.render,
			Log:          s.log,
		})

		// Scanner reads cannot be interrupted, so stdin stays outside the group.
		lines := make(chan string)
		go func() {
			defer close(lines)
			sc := bufio.NewScanner(os.Stdin)
			for sc.Scan() {
				lines <- sc.Text()
			}
		}()

		g, ctx := errgroup.WithContext(cmd.Context())
		g.Go(func() error { return chat.Run(ctx) })
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case line, ok := <-lines:
					if !ok {
						return nil
					}
					if strings.TrimSpace(line) == "" {
						continue
					}
					if _, err := chat.Send(ctx, line); err != nil {
						fmt.Fprintln(os.Stderr, "send failed:", err)
					}
				}
			}
		})
		return g.Wait()
	},
}

// chatPrinter prints each message once and notes when the read marker moves.
type chatPrinter struct {
	self    string
	printed map[string]bool
	marker  string
}

func newChatPrinter(self string) *chatPrinter {
	return &chatPrinter{self: self, printed: map[string]bool{}}
}

func (p *chatPrinter) render(msgs []messages.Message) {
	for _, m := range msgs {
		if p.printed[m.ID] {
			continue
		}
		p.printed[m.ID] = true
		who := m.SenderID
		if who == p.self {
			who = "you"
		}
		fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), who, m.Content)
	}
	if id, ok := chatclient.ReadMarker(msgs, p.self); ok && id != p.marker {
		p.marker = id
		fmt.Println("  (read)")
	}
}

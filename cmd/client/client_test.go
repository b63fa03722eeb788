package main

import (
	"bytes"
	"io"
	"os"
	"testing"
	"time"

	"link-platform/internal/messages"

	"github.com/stretchr/testify/require"
)

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	orig := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w
	fn()
	require.NoError(t, w.Close())
	os.Stdout = orig
	var buf bytes.Buffer
	_, err = io.Copy(&buf, r)
	require.NoError(t, err)
	return buf.String()
}

func TestChatPrinterPrintsOnceAndMarksRead(t *testing.T) {
	at := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	read := at.Add(time.Minute)
	p := newChatPrinter("alice")

	first := []messages.Message{{ID: "m1", SenderID: "alice", Content: "hi", CreatedAt: at}}
	out := captureStdout(t, func() { p.render(first) })
	require.Contains(t, out, "you: hi")

	second := []messages.Message{
		{ID: "m1", SenderID: "alice", Content: "hi", CreatedAt: at, ReadAt: &read},
		{ID: "m2", SenderID: "bob", Content: "hey", CreatedAt: at.Add(time.Second)},
	}
	out = captureStdout(t, func() { p.render(second) })
	require.NotContains(t, out, "you: hi")
	require.Contains(t, out, "bob: hey")
	require.Contains(t, out, "(read)")

	out = captureStdout(t, func() { p.render(second) })
	require.Empty(t, out)
}

func TestSubcommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"watch", "call", "chat", "conversations", "history"} {
		require.True(t, names[want], want)
	}
}

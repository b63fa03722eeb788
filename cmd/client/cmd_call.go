package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"link-platform/internal/callclient"
	"link-platform/internal/calls"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	watchAnswer string
	callVideo   bool
	callTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(watchCmd, callCmd)
	watchCmd.Flags().StringVar(&watchAnswer, "answer", "", "answer incoming calls automatically: accept or reject")
	callCmd.Flags().BoolVar(&callVideo, "video", false, "start a video call")
	callCmd.Flags().DurationVar(&callTimeout, "ring-timeout", 30*time.Second, "how long to ring before giving up")
}

// printState renders reconciler changes as one line each.
func printState(st callclient.State, ok bool) {
	if !ok {
		fmt.Println("idle")
		return
	}
	media := ""
	if st.InMedia {
		media = " [media]"
	}
	fmt.Printf("%s %s call %s with %s (%s)%s\n", st.Role, st.CallType, st.SessionID, st.PeerID, st.Status, media)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Wait for incoming calls and print call state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if watchAnswer != "" && watchAnswer != "accept" && watchAnswer != "reject" {
			return fmt.Errorf("--answer must be accept or reject")
		}
		s, err := openSession(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer s.Close()

		ringing := make(chan struct{}, 1)
		r := callclient.New(s.userID, s.api, s.feed, callclient.Options{
			Log: s.log,
			OnChange: func(st callclient.State, ok bool) {
				printState(st, ok)
				if ok && st.Role == callclient.RoleCallee && st.Status == calls.StatusRinging {
					select {
					case ringing <- struct{}{}:
					default:
					}
				}
			},
		})

		g, ctx := errgroup.WithContext(cmd.Context())
		g.Go(func() error { return r.Run(ctx) })
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ringing:
				}
				var err error
				switch watchAnswer {
				case "accept":
					err = r.Accept(ctx)
				case "reject":
					err = r.Reject(ctx)
				}
				// The caller may have hung up in between.
				if err != nil && !errors.Is(err, callclient.ErrNoCall) {
					s.log.Warn("auto answer failed", "err", err)
				}
			}
		})
		return g.Wait()
	},
}

var callCmd = &cobra.Command{
	Use:   "call <conversation_id>",
	Short: "Call the other participant and stay on the line until the call ends",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer s.Close()

		ended := make(chan struct{})
		started := false
		r := callclient.New(s.userID, s.api, s.feed, callclient.Options{
			Log:         s.log,
			RingTimeout: callTimeout,
			OnChange: func(st callclient.State, ok bool) {
				printState(st, ok)
				if ok {
					started = true
				} else if started {
					close(ended)
					started = false
				}
			},
		})

		callType := calls.CallTypeAudio
		if callVideo {
			callType = calls.CallTypeVideo
		}

		g, ctx := errgroup.WithContext(cmd.Context())
		runCtx, cancelRun := context.WithCancel(context.WithoutCancel(ctx))
		defer cancelRun()
		g.Go(func() error { return r.Run(runCtx) })
		g.Go(func() error {
			defer cancelRun()
			if _, err := r.StartCall(ctx, args[0], callType); err != nil {
				return err
			}
			select {
			case <-ended:
				return nil
			case <-ctx.Done():
				// Interrupted: hang up before the loop stops.
				hctx, cancel := context.WithTimeout(runCtx, 5*time.Second)
				defer cancel()
				if err := r.Hangup(hctx); err != nil && !errors.Is(err, callclient.ErrNoCall) && !errors.Is(err, callclient.ErrStopped) {
					return err
				}
				return nil
			}
		})
		return g.Wait()
	},
}

package main

import (
	"io"
	"testing"

	"link-platform/internal/config"
	"link-platform/internal/jobs"
	"link-platform/internal/notify"
	"link-platform/pkg/logger"

	"github.com/stretchr/testify/require"
)

func TestPushDispatcherSelection(t *testing.T) {
	log := logger.NewWriter(io.Discard, "local", "api")
	deliverer := notify.NewDeliverer(notify.NewMemorySubscriptions(), notify.NewWebPushSender(config.PushConfig{}), log)
	queue := &jobs.Queue{}

	cfg := config.Config{}
	require.IsType(t, notify.Discard{}, pushDispatcher(cfg, queue, deliverer, log))

	cfg.Push = config.PushConfig{VAPIDPublicKey: "pub", VAPIDPrivateKey: "priv", Delivery: config.PushDeliveryQueue}
	got, ok := pushDispatcher(cfg, queue, deliverer, log).(*jobs.Queue)
	require.True(t, ok)
	require.Same(t, queue, got)

	cfg.Push.Delivery = config.PushDeliveryDirect
	require.IsType(t, &notify.Direct{}, pushDispatcher(cfg, queue, deliverer, log))
}

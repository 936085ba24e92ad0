package notifier

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/layer-3/campusauth/core"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestBuildMessage(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	raw := string(buildMessage("noreply@school.edu", core.Message{
		To:      "head@school.edu",
		Subject: "Your login code",
		Body:    "Code: 123456\nValid for 10 minutes",
	}, now))

	require.True(t, strings.HasPrefix(raw, "From: noreply@school.edu\r\nTo: head@school.edu\r\n"))
	require.Contains(t, raw, "Subject: Your login code\r\n")
	require.Contains(t, raw, "Date: Fri, 02 Jan 2026 03:04:05 +0000\r\n")
	require.Contains(t, raw, "\r\n\r\nCode: 123456\r\nValid for 10 minutes\r\n")
}

func TestSMTPNotifierReportsUnreachableRelay(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	n := NewSMTPNotifier(SMTPConfig{Host: "127.0.0.1", Port: port, From: "noreply@school.edu"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = n.Deliver(ctx, core.Message{To: "head@school.edu", Subject: "s", Body: "b"})
	require.Error(t, err)
}

func TestLogNotifier(t *testing.T) {
	obs, logs := observer.New(zap.InfoLevel)
	n := NewLogNotifier(zap.New(obs))

	require.NoError(t, n.Deliver(context.Background(), core.Message{
		To:      "head@school.edu",
		Subject: "Reset your password",
		Body:    "https://school.edu/reset/abc",
	}))

	entries := logs.FilterMessage("outgoing message").All()
	require.Len(t, entries, 1)
	require.Equal(t, "head@school.edu", entries[0].ContextMap()["to"])
}

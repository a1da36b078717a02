package dispatch

import (
	"context"

	logx "wakebot/pkg/logx"
)

// Sender delivers one message to one address of its channel.
//
// Permanent failures should be wrapped with engine.NoRetry and throttling
// responses with engine.RetryAfter so the dispatcher can react.
type Sender interface {
	Send(ctx context.Context, to, text string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, to, text string) error

func (f SenderFunc) Send(ctx context.Context, to, text string) error { return f(ctx, to, text) }

// LogSender writes messages to the log instead of delivering them. It backs
// "log:" addresses.
type LogSender struct {
	Log logx.Logger
}

func (s LogSender) Send(_ context.Context, to, text string) error {
	s.Log.Info("message", logx.String("to", to), logx.String("text", text))
	return nil
}

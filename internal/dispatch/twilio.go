package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"wakebot/internal/task/engine"
)

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	// From is the WhatsApp-enabled sender, e.g. "whatsapp:+14155238886".
	From string
	// SMSFrom is the SMS sender number; empty disables "sms:" addresses.
	SMSFrom string
}

func (c TwilioConfig) Enabled() bool {
	return strings.TrimSpace(c.AccountSID) != "" && strings.TrimSpace(c.AuthToken) != ""
}

type messageCreator interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// TwilioSender delivers WhatsApp and SMS messages through the Twilio
// Messages API.
type TwilioSender struct {
	api     messageCreator
	from    string
	smsFrom string
}

func NewTwilio(cfg TwilioConfig) (*TwilioSender, error) {
	if !cfg.Enabled() {
		return nil, errors.New("twilio account sid and auth token are required")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioSender{api: client.Api, from: strings.TrimSpace(cfg.From), smsFrom: strings.TrimSpace(cfg.SMSFrom)}, nil
}

func (s *TwilioSender) Send(ctx context.Context, to, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ch, err := Channel(to)
	if err != nil {
		return engine.NoRetry(err)
	}

	params := &openapi.CreateMessageParams{}
	params.SetBody(text)
	switch ch {
	case ChannelWhatsApp:
		if s.from == "" {
			return engine.NoRetry(fmt.Errorf("%w: twilio whatsapp sender not configured", ErrNoSender))
		}
		// Twilio addresses WhatsApp numbers with the "whatsapp:" prefix kept.
		params.SetTo(ChannelWhatsApp + ":" + target(to))
		params.SetFrom(s.from)
	case ChannelSMS:
		if s.smsFrom == "" {
			return engine.NoRetry(fmt.Errorf("%w: twilio sms sender not configured", ErrNoSender))
		}
		params.SetTo(target(to))
		params.SetFrom(s.smsFrom)
	default:
		return engine.NoRetry(fmt.Errorf("%w: twilio cannot send to %s", ErrNoSender, ch))
	}

	if _, err := s.api.CreateMessage(params); err != nil {
		return classifyTwilio(err)
	}
	return nil
}

func classifyTwilio(err error) error {
	var rest *twclient.TwilioRestError
	if !errors.As(err, &rest) {
		return fmt.Errorf("twilio: %w", err)
	}
	wrapped := fmt.Errorf("twilio %d (code %d): %w", rest.Status, rest.Code, err)
	switch {
	case rest.Status == http.StatusTooManyRequests:
		return engine.RetryAfter(wrapped, 5*time.Second)
	case rest.Status >= 400 && rest.Status < 500:
		// Bad number, unverified sandbox recipient, bad credentials.
		return engine.NoRetry(wrapped)
	default:
		return wrapped
	}
}

package dispatch

import (
	"context"
	"errors"
	"testing"

	twclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	tele "gopkg.in/telebot.v4"

	"wakebot/internal/task/engine"
)

type fakeTwilio struct {
	params []*openapi.CreateMessageParams
	err    error
}

func (f *fakeTwilio) CreateMessage(p *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error) {
	f.params = append(f.params, p)
	return &openapi.ApiV2010Message{}, f.err
}

func TestTwilioSenderAddressing(t *testing.T) {
	t.Parallel()
	api := &fakeTwilio{}
	s := &TwilioSender{api: api, from: "whatsapp:+14155238886", smsFrom: "+15005550006"}

	if err := s.Send(context.Background(), "whatsapp:+916201524943", "hi"); err != nil {
		t.Fatalf("whatsapp: %v", err)
	}
	if err := s.Send(context.Background(), "sms:+15550001111", "hi"); err != nil {
		t.Fatalf("sms: %v", err)
	}
	if got := *api.params[0].To; got != "whatsapp:+916201524943" {
		t.Fatalf("whatsapp To = %q", got)
	}
	if got := *api.params[0].From; got != "whatsapp:+14155238886" {
		t.Fatalf("whatsapp From = %q", got)
	}
	if got := *api.params[1].To; got != "+15550001111" {
		t.Fatalf("sms To = %q", got)
	}
	if got := *api.params[1].Body; got != "hi" {
		t.Fatalf("Body = %q", got)
	}

	noSMS := &TwilioSender{api: api, from: "whatsapp:+1"}
	if err := noSMS.Send(context.Background(), "sms:+1", "hi"); !engine.IsNoRetry(err) || !errors.Is(err, ErrNoSender) {
		t.Fatalf("sms without sender err = %v", err)
	}
}

func TestClassifyTwilio(t *testing.T) {
	t.Parallel()
	tests := []struct {
		status    int
		noRetry   bool
		hintRetry bool
	}{
		{400, true, false},
		{429, false, true},
		{503, false, false},
	}
	for _, tt := range tests {
		err := classifyTwilio(&twclient.TwilioRestError{Status: tt.status, Code: 21211, Message: "x"})
		var ra engine.RetryAfterError
		if engine.IsNoRetry(err) != tt.noRetry || errors.As(err, &ra) != tt.hintRetry {
			t.Errorf("status %d: err = %v", tt.status, err)
		}
	}
}

type fakeBot struct {
	to  []tele.Recipient
	err error
}

func (f *fakeBot) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	f.to = append(f.to, to)
	return &tele.Message{}, f.err
}

func TestTelegramSender(t *testing.T) {
	t.Parallel()
	bot := &fakeBot{}
	s := &TelegramSender{bot: bot}

	if err := s.Send(context.Background(), "telegram:-100123", "hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := bot.to[0].Recipient(); got != "-100123" {
		t.Fatalf("recipient = %q", got)
	}
	if err := s.Send(context.Background(), "telegram:@handle", "hi"); !engine.IsNoRetry(err) {
		t.Fatalf("bad chat id err = %v", err)
	}

	bot.err = tele.ErrBlockedByUser
	if err := s.Send(context.Background(), "telegram:1", "hi"); !engine.IsNoRetry(err) {
		t.Fatalf("blocked err = %v", err)
	}
}

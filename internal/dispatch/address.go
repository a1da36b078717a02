package dispatch

import (
	"errors"
	"fmt"
	"strings"
)

// Channels, taken from the scheme of a delivery address.
const (
	ChannelWhatsApp = "whatsapp"
	ChannelSMS      = "sms"
	ChannelTelegram = "telegram"
	ChannelLog      = "log"
)

var (
	ErrBadAddress  = errors.New("bad delivery address")
	ErrNoSender    = errors.New("no sender for channel")
	ErrCircuitOpen = errors.New("circuit open for destination")
)

// Channel returns the scheme of addr ("whatsapp:+15550001111" -> "whatsapp").
func Channel(addr string) (string, error) {
	scheme, rest, ok := strings.Cut(strings.TrimSpace(addr), ":")
	scheme = strings.ToLower(strings.TrimSpace(scheme))
	if !ok || scheme == "" || strings.TrimSpace(rest) == "" {
		return "", fmt.Errorf("%w: %q", ErrBadAddress, addr)
	}
	switch scheme {
	case ChannelWhatsApp, ChannelSMS, ChannelTelegram, ChannelLog:
		return scheme, nil
	default:
		return "", fmt.Errorf("%w: unknown scheme %q", ErrBadAddress, scheme)
	}
}

func target(addr string) string {
	_, rest, _ := strings.Cut(strings.TrimSpace(addr), ":")
	return strings.TrimSpace(rest)
}

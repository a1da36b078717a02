// Package dispatch delivers rendered messages to recipients over WhatsApp,
// SMS, Telegram or the log, with per-recipient retries, a per-destination
// circuit breaker and a global rate limit.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"wakebot/internal/metrics"
	"wakebot/internal/task/engine"
	"wakebot/internal/wake"
	logx "wakebot/pkg/logx"
)

type Config struct {
	// DryRun logs messages instead of sending them.
	DryRun bool
	// Emphasis wraps free-text parts of messages in asterisks (bold).
	Emphasis bool

	// RatePerSec limits outbound sends across all channels; 0 disables.
	RatePerSec float64
	Burst      int

	RetryMax int
	Backoff  engine.Backoff
	Breaker  BreakerConfig

	Twilio   TwilioConfig
	Telegram TelegramConfig
}

type Dispatcher struct {
	cfg     Config
	log     logx.Logger
	metrics metrics.Sink

	senders map[string]Sender
	limiter *rate.Limiter
	breaker *Breaker

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New builds a Dispatcher with the senders cfg has credentials for, plus
// the log channel. Extra senders (tests, custom channels) override built-ins.
func New(cfg Config, log logx.Logger, sink metrics.Sink, extra map[string]Sender) (*Dispatcher, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if sink == nil {
		sink = metrics.NewNoopSink()
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}

	senders := map[string]Sender{ChannelLog: LogSender{Log: log.With(logx.String("channel", ChannelLog))}}
	if !cfg.DryRun {
		if cfg.Twilio.Enabled() {
			tw, err := NewTwilio(cfg.Twilio)
			if err != nil {
				return nil, err
			}
			senders[ChannelWhatsApp] = tw
			senders[ChannelSMS] = tw
		}
		if strings.TrimSpace(cfg.Telegram.Token) != "" {
			tg, err := NewTelegram(cfg.Telegram)
			if err != nil {
				return nil, fmt.Errorf("telegram: %w", err)
			}
			senders[ChannelTelegram] = tg
		}
	}
	for ch, s := range extra {
		senders[ch] = s
	}

	d := &Dispatcher{
		cfg:     cfg,
		log:     log,
		metrics: sink,
		senders: senders,
		breaker: NewBreaker(cfg.Breaker),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return d, nil
}

// Channels lists channels with a sender, for diagnostics.
func (d *Dispatcher) Channels() []string {
	out := make([]string, 0, len(d.senders))
	for ch := range d.senders {
		out = append(out, ch)
	}
	return out
}

// CheckAddress reports whether addr can be delivered to with the current
// senders. Dry-run accepts any well-formed address.
func (d *Dispatcher) CheckAddress(addr string) error {
	ch, err := Channel(addr)
	if err != nil {
		return err
	}
	if d.cfg.DryRun {
		return nil
	}
	if _, ok := d.senders[ch]; !ok {
		return fmt.Errorf("%w: %s", ErrNoSender, ch)
	}
	return nil
}

// Deliver renders the message for kind and sends it once to every
// recipient. Failures are per recipient; one failing recipient never
// blocks or repeats delivery to the others.
func (d *Dispatcher) Deliver(ctx context.Context, kind wake.Kind, p wake.Payload) error {
	text := wake.Render(kind, p, d.cfg.Emphasis)
	var errs []error
	for _, to := range p.Recipients {
		if err := d.Send(ctx, to, text); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", to, err))
		}
	}
	return errors.Join(errs...)
}

// Send delivers text to one address, retrying transient failures.
func (d *Dispatcher) Send(ctx context.Context, to, text string) error {
	ch, err := Channel(to)
	if err != nil {
		d.log.Warn("send skipped: bad address", logx.String("to", to), logx.Err(err))
		d.metrics.SendOutcome("unknown", metrics.OutcomeFailed)
		return err
	}
	log := d.log.With(logx.String("to", to), logx.String("channel", ch))

	if d.cfg.DryRun {
		log.Info("dry run: message not sent", logx.String("text", text))
		d.metrics.SendOutcome(ch, metrics.OutcomeDryRun)
		return nil
	}
	sender, ok := d.senders[ch]
	if !ok {
		log.Error("send failed: no sender configured")
		d.metrics.SendOutcome(ch, metrics.OutcomeFailed)
		return fmt.Errorf("%w: %s", ErrNoSender, ch)
	}
	if allowed, until := d.breaker.Allow(to); !allowed {
		log.Warn("send skipped: circuit open", logx.Time("until", until))
		d.metrics.SendOutcome(ch, metrics.OutcomeSkipped)
		return ErrCircuitOpen
	}

	attempts := 1 + d.cfg.RetryMax
	for attempt := 1; ; attempt++ {
		if d.limiter != nil {
			if err = d.limiter.Wait(ctx); err != nil {
				break
			}
		}
		start := time.Now()
		err = sender.Send(ctx, to, text)
		d.metrics.SendAttempt(ch, time.Since(start))
		if err == nil || engine.IsNoRetry(err) || attempt >= attempts || ctx.Err() != nil {
			break
		}

		delay := d.delay(attempt, err)
		log.Debug("send retry scheduled", logx.Int("attempt", attempt+1), logx.Duration("delay", delay), logx.Err(err))
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			err = fmt.Errorf("%w (last error: %v)", ctx.Err(), err)
		case <-t.C:
			continue
		}
		break
	}

	d.breaker.Record(to, err)
	if err != nil {
		log.Warn("send failed", logx.Err(err))
		d.metrics.SendOutcome(ch, metrics.OutcomeFailed)
		return err
	}
	log.Info("message sent")
	d.metrics.SendOutcome(ch, metrics.OutcomeSent)
	return nil
}

// BreakerSnapshot returns tracked and open destinations.
func (d *Dispatcher) BreakerSnapshot() (total, open int) { return d.breaker.Snapshot() }

func (d *Dispatcher) delay(attempt int, err error) time.Duration {
	d.rngMu.Lock()
	defer d.rngMu.Unlock()
	return d.cfg.Backoff.Delay(attempt, err, d.rng)
}

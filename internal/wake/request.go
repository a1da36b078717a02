package wake

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	logx "wakebot/pkg/logx"
)

// Column positions in a form response row.
const (
	ColTimestamp = iota
	ColSubject
	ColWakeTime
	ColLocation
	ColImportance
	ColReceivers
	ColReminderDelay

	NumColumns
)

// DefaultReminderDelay is used when a row's delay is missing or malformed.
const DefaultReminderDelay = 5

var (
	ErrTooFewFields = errors.New("too few fields")
	ErrInvalidTime  = errors.New("invalid time format")
	ErrNoRecipients = errors.New("no valid recipients")
)

// Request is one validated wake-up request.
type Request struct {
	Row int    `json:"row"`
	Key string `json:"key,omitempty"`

	Subject    string      `json:"subject"`
	WakeAt     TimeOfDay   `json:"wake_at"`
	Location   string      `json:"location"`
	Importance string      `json:"importance"`
	Recipients []Recipient `json:"recipients"`

	// ReminderDelay is in minutes.
	ReminderDelay int `json:"reminder_delay"`
}

// Addresses lists the delivery addresses in order.
func (r Request) Addresses() []string {
	out := make([]string, len(r.Recipients))
	for i, rc := range r.Recipients {
		out[i] = rc.Address
	}
	return out
}

// Interpreter validates rows against a recipient directory.
type Interpreter struct {
	Directory    *Directory
	DefaultDelay int
	Log          logx.Logger
}

// Interpret turns the fields of data row `row` (1-based, header excluded)
// into a Request. Unknown receiver names and a malformed delay are logged
// and tolerated; structural problems reject the row.
func (in Interpreter) Interpret(row int, fields []string) (Request, error) {
	if len(fields) < NumColumns {
		return Request{}, fmt.Errorf("%w: got %d, want %d", ErrTooFewFields, len(fields), NumColumns)
	}
	log := in.Log.With(logx.Int("row", row))

	rawTime := strings.TrimSpace(fields[ColWakeTime])
	tod, err := ParseTimeOfDay(rawTime)
	if err != nil {
		return Request{}, err
	}

	var recipients []Recipient
	for _, name := range strings.Split(fields[ColReceivers], ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		addr, ok := in.Directory.Lookup(name)
		if !ok {
			log.Warn("no mapping for receiver", logx.String("receiver", name))
			continue
		}
		recipients = append(recipients, Recipient{Name: name, Address: addr})
	}
	if len(recipients) == 0 {
		return Request{}, ErrNoRecipients
	}

	def := in.DefaultDelay
	if def < 0 {
		def = DefaultReminderDelay
	}
	delay, err := strconv.Atoi(strings.TrimSpace(fields[ColReminderDelay]))
	if err != nil || delay < 0 {
		log.Warn("invalid reminder delay; using default", logx.String("value", fields[ColReminderDelay]), logx.Int("default", def))
		delay = def
	}

	return Request{
		Row:           row,
		Subject:       fields[ColSubject],
		WakeAt:        tod,
		Location:      fields[ColLocation],
		Importance:    fields[ColImportance],
		Recipients:    recipients,
		ReminderDelay: delay,
	}, nil
}

// ParseTimeOfDay accepts "H:M" or "H:M:S" on a 24-hour clock, with one or
// two digits per part ("7:5" is 07:05).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	bad := fmt.Errorf("%w: %q", ErrInvalidTime, s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return TimeOfDay{}, bad
	}
	limits := []int{23, 59, 59}
	var v [3]int
	for i, p := range parts {
		if len(p) == 0 || len(p) > 2 || strings.TrimLeft(p, "0123456789") != "" {
			return TimeOfDay{}, bad
		}
		n, err := strconv.Atoi(p)
		if err != nil || n > limits[i] {
			return TimeOfDay{}, bad
		}
		v[i] = n
	}
	return TimeOfDay{Hour: v[0], Minute: v[1], Second: v[2]}, nil
}

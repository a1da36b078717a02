package wake

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	logx "wakebot/pkg/logx"
)

func testDirectory(t *testing.T) *Directory {
	t.Helper()
	d, err := NewDirectory(map[string]string{
		"Ekansh": "whatsapp:+15550000001",
		"KD":     "whatsapp:+15550000002",
		"Nick":   "telegram:42",
	})
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}
	return d
}

func row(wakeTime, receivers, delay string) []string {
	return []string{"1/2/2025 10:00:00", "Ekansh", wakeTime, "hostel", "exam hai", receivers, delay}
}

func TestInterpret(t *testing.T) {
	t.Parallel()
	in := Interpreter{Directory: testDirectory(t), DefaultDelay: DefaultReminderDelay, Log: logx.Nop()}

	tests := []struct {
		name      string
		fields    []string
		wantErr   error
		wantTime  TimeOfDay
		wantDelay int
		wantTo    []string
	}{
		{
			name:      "seconds layout",
			fields:    row("23:26:00", "KD", "10"),
			wantTime:  TimeOfDay{23, 26, 0},
			wantDelay: 10,
			wantTo:    []string{"whatsapp:+15550000002"},
		},
		{
			name:      "minutes layout with padding",
			fields:    row(" 07:05 ", "KD, Nick", "5"),
			wantTime:  TimeOfDay{7, 5, 0},
			wantDelay: 5,
			wantTo:    []string{"whatsapp:+15550000002", "telegram:42"},
		},
		{
			name:      "unknown receivers are dropped",
			fields:    row("06:00", "Ghost, Nick,,", "3"),
			wantTime:  TimeOfDay{6, 0, 0},
			wantDelay: 3,
			wantTo:    []string{"telegram:42"},
		},
		{
			name:      "malformed delay falls back",
			fields:    row("06:00", "KD", "abc"),
			wantTime:  TimeOfDay{6, 0, 0},
			wantDelay: 5,
			wantTo:    []string{"whatsapp:+15550000002"},
		},
		{
			name:      "negative delay falls back",
			fields:    row("06:00", "KD", "-3"),
			wantTime:  TimeOfDay{6, 0, 0},
			wantDelay: 5,
			wantTo:    []string{"whatsapp:+15550000002"},
		},
		{name: "too few fields", fields: []string{"ts", "x", "06:00"}, wantErr: ErrTooFewFields},
		{name: "bad time", fields: row("7am", "KD", "5"), wantErr: ErrInvalidTime},
		{name: "out of range time", fields: row("25:00", "KD", "5"), wantErr: ErrInvalidTime},
		{name: "no recipients", fields: row("06:00", "Ghost", "5"), wantErr: ErrNoRecipients},
		{name: "empty receivers", fields: row("06:00", " , ", "5"), wantErr: ErrNoRecipients},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req, err := in.Interpret(4, tt.fields)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Interpret: %v", err)
			}
			if req.Row != 4 || req.Subject != "Ekansh" || req.Location != "hostel" || req.Importance != "exam hai" {
				t.Fatalf("unexpected request %+v", req)
			}
			if req.WakeAt != tt.wantTime {
				t.Fatalf("WakeAt = %v, want %v", req.WakeAt, tt.wantTime)
			}
			if req.ReminderDelay != tt.wantDelay {
				t.Fatalf("ReminderDelay = %d, want %d", req.ReminderDelay, tt.wantDelay)
			}
			if got := strings.Join(req.Addresses(), "|"); got != strings.Join(tt.wantTo, "|") {
				t.Fatalf("Addresses = %s, want %s", got, strings.Join(tt.wantTo, "|"))
			}
		})
	}
}

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want TimeOfDay
		ok   bool
	}{
		{"7:5", TimeOfDay{7, 5, 0}, true},
		{"07:05:3", TimeOfDay{7, 5, 3}, true},
		{"0:0", TimeOfDay{0, 0, 0}, true},
		{" 23:59:59 ", TimeOfDay{23, 59, 59}, true},
		{"24:00", TimeOfDay{}, false},
		{"12:60", TimeOfDay{}, false},
		{"12:30:60", TimeOfDay{}, false},
		{"12", TimeOfDay{}, false},
		{"12:", TimeOfDay{}, false},
		{"1:2:3:4", TimeOfDay{}, false},
		{"007:05", TimeOfDay{}, false},
		{"+7:05", TimeOfDay{}, false},
		{"7 :05", TimeOfDay{}, false},
	}
	for _, tt := range tests {
		got, err := ParseTimeOfDay(tt.in)
		if tt.ok {
			if err != nil || got != tt.want {
				t.Errorf("ParseTimeOfDay(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
			}
			continue
		}
		if !errors.Is(err, ErrInvalidTime) {
			t.Errorf("ParseTimeOfDay(%q) err = %v, want ErrInvalidTime", tt.in, err)
		}
	}
}

func TestInterpretLogsFallbacks(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	in := Interpreter{Directory: testDirectory(t), DefaultDelay: 5, Log: logx.NewWriter(&buf, "debug")}
	if _, err := in.Interpret(2, row("06:00", "Ghost, KD", "abc")); err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "no mapping for receiver") || !strings.Contains(out, "Ghost") {
		t.Fatalf("missing receiver warning: %s", out)
	}
	if !strings.Contains(out, "invalid reminder delay") {
		t.Fatalf("missing delay warning: %s", out)
	}
}

func TestNewDirectoryRejectsBadEntries(t *testing.T) {
	t.Parallel()
	for _, m := range []map[string]string{
		{"": "whatsapp:+1"},
		{"KD": "  "},
		{"KD": "whatsapp:+1", " KD ": "whatsapp:+2"},
	} {
		if _, err := NewDirectory(m); err == nil {
			t.Errorf("NewDirectory(%v): expected error", m)
		}
	}
}

func TestRender(t *testing.T) {
	t.Parallel()
	p := Payload{Subject: "Ekansh", Location: "hostel", Importance: "exam hai"}
	if got, want := Render(KindWake, p, false), "Ekansh ko utha do, hostel pe so rha h. Bol rha tha ki exam hai."; got != want {
		t.Fatalf("wake = %q, want %q", got, want)
	}
	if got, want := Render(KindReminder, p, false), "Reminder! Check krlo ki Ekansh utha ki nhi."; got != want {
		t.Fatalf("reminder = %q, want %q", got, want)
	}
	if got, want := Render(KindWake, p, true), "*Ekansh* ko utha do, *hostel* pe so rha h. Bol rha tha ki *exam hai*."; got != want {
		t.Fatalf("emphasis = %q, want %q", got, want)
	}
}

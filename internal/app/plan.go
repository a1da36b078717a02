package app

import (
	"context"
	"fmt"
	"time"

	"wakebot/internal/config"
	"wakebot/internal/source"
	"wakebot/internal/wake"
	logx "wakebot/pkg/logx"
)

// PlannedRow is what a pass would do with one sheet row.
type PlannedRow struct {
	Row        int       `json:"row"`
	Subject    string    `json:"subject,omitempty"`
	WakeAt     time.Time `json:"wake_at,omitempty"`
	ReminderAt time.Time `json:"reminder_at,omitempty"`
	Recipients []string  `json:"recipients,omitempty"`
	Wake       string    `json:"wake_text,omitempty"`
	Reminder   string    `json:"reminder_text,omitempty"`
	Rejected   string    `json:"rejected,omitempty"`
}

// Plan fetches the sheet and interprets every data row as of now without
// touching a ledger or sending anything.
func Plan(ctx context.Context, cfg *config.Config, now time.Time, log logx.Logger) ([]PlannedRow, error) {
	srcCfg, err := mapSource(cfg)
	if err != nil {
		return nil, err
	}
	src, err := source.New(srcCfg)
	if err != nil {
		return nil, err
	}
	dir, err := wake.NewDirectory(cfg.Recipients)
	if err != nil {
		return nil, fmt.Errorf("recipients: %w", err)
	}
	loc := time.Local
	if cfg.Scheduler.Timezone != "" {
		if loc, err = time.LoadLocation(cfg.Scheduler.Timezone); err != nil {
			return nil, fmt.Errorf("scheduler.timezone: %w", err)
		}
	}

	raw, err := src.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	rows, err := source.ParseRows(raw)
	if err != nil {
		return nil, err
	}
	if len(rows) <= 1 {
		return nil, nil
	}

	in := mapInterpreter(cfg, dir, log)
	now = now.In(loc)
	out := make([]PlannedRow, 0, len(rows)-1)
	for i, fields := range rows[1:] {
		row := i + 1
		req, err := in.Interpret(row, fields)
		if err != nil {
			out = append(out, PlannedRow{Row: row, Rejected: err.Error()})
			continue
		}
		at := wake.Resolve(req.WakeAt, now)
		p := req.Payload()
		out = append(out, PlannedRow{
			Row:        row,
			Subject:    req.Subject,
			WakeAt:     at,
			ReminderAt: wake.ReminderAt(at, req.ReminderDelay),
			Recipients: p.Recipients,
			Wake:       wake.Render(wake.KindWake, p, cfg.Dispatch.Emphasis),
			Reminder:   wake.Render(wake.KindReminder, p, cfg.Dispatch.Emphasis),
		})
	}
	return out, nil
}

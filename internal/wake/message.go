package wake

import "fmt"

// Kind distinguishes the two jobs a request produces.
type Kind string

const (
	KindWake     Kind = "wake"
	KindReminder Kind = "reminder"
)

// Payload is what a fired job needs to build and deliver its message.
type Payload struct {
	Subject    string   `json:"subject"`
	Location   string   `json:"location"`
	Importance string   `json:"importance"`
	Recipients []string `json:"recipients"`
}

func (r Request) Payload() Payload {
	return Payload{
		Subject:    r.Subject,
		Location:   r.Location,
		Importance: r.Importance,
		Recipients: r.Addresses(),
	}
}

// Render builds the message text. With emphasis, the free-text parts are
// wrapped in asterisks, which WhatsApp and Telegram Markdown show as bold.
func Render(kind Kind, p Payload, emphasis bool) string {
	b := func(s string) string {
		if emphasis {
			return "*" + s + "*"
		}
		return s
	}
	switch kind {
	case KindReminder:
		return fmt.Sprintf("%s Check krlo ki %s utha ki nhi.", b("Reminder!"), b(p.Subject))
	default:
		return fmt.Sprintf("%s ko utha do, %s pe so rha h. Bol rha tha ki %s.", b(p.Subject), b(p.Location), b(p.Importance))
	}
}

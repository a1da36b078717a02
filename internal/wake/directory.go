package wake

import (
	"fmt"
	"sort"
	"strings"
)

// Recipient is a directory name with its delivery address, for example
// "whatsapp:+15550001111" or "telegram:123456".
type Recipient struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Directory maps the receiver names people pick in the form to delivery
// addresses. It is immutable after construction.
type Directory struct {
	byName map[string]string
}

// NewDirectory copies m. Names are matched exactly after trimming.
func NewDirectory(m map[string]string) (*Directory, error) {
	d := &Directory{byName: make(map[string]string, len(m))}
	for name, addr := range m {
		name, addr = strings.TrimSpace(name), strings.TrimSpace(addr)
		if name == "" {
			return nil, fmt.Errorf("recipient with empty name")
		}
		if addr == "" {
			return nil, fmt.Errorf("recipient %q has no address", name)
		}
		if _, dup := d.byName[name]; dup {
			return nil, fmt.Errorf("recipient %q listed twice", name)
		}
		d.byName[name] = addr
	}
	return d, nil
}

func (d *Directory) Lookup(name string) (string, bool) {
	if d == nil {
		return "", false
	}
	addr, ok := d.byName[strings.TrimSpace(name)]
	return addr, ok
}

func (d *Directory) Len() int {
	if d == nil {
		return 0
	}
	return len(d.byName)
}

// Names returns the known names in sorted order.
func (d *Directory) Names() []string {
	if d == nil {
		return nil
	}
	out := make([]string, 0, len(d.byName))
	for n := range d.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

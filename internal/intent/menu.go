package intent

import (
	"fmt"
	"strings"
)

// MenuOption is one numbered entry of the bot menu.
type MenuOption struct {
	Key   string `yaml:"key"`
	Label string `yaml:"label"`
	Flow  string `yaml:"flow"` // name of the flow that handles this option
}

// Menu is an ordered, read-only set of options with unique keys.
type Menu struct {
	header  string
	options []MenuOption
	byKey   map[string]int
	lower   []string // lowercased labels, same order as options
}

// NewMenu validates the options and freezes them. The header is the line
// shown above the options when the menu is rendered.
func NewMenu(header string, options []MenuOption) (*Menu, error) {
	if len(options) == 0 {
		return nil, fmt.Errorf("menu has no options")
	}
	m := &Menu{
		header:  header,
		options: make([]MenuOption, len(options)),
		byKey:   make(map[string]int, len(options)),
		lower:   make([]string, len(options)),
	}
	for i, opt := range options {
		opt.Key = strings.TrimSpace(opt.Key)
		if opt.Key == "" {
			return nil, fmt.Errorf("menu option %d: empty key", i)
		}
		if opt.Label == "" {
			return nil, fmt.Errorf("menu option %q: empty label", opt.Key)
		}
		if opt.Flow == "" {
			return nil, fmt.Errorf("menu option %q: no flow", opt.Key)
		}
		if _, dup := m.byKey[opt.Key]; dup {
			return nil, fmt.Errorf("menu option %q: duplicate key", opt.Key)
		}
		m.options[i] = opt
		m.byKey[opt.Key] = i
		m.lower[i] = strings.ToLower(opt.Label)
	}
	return m, nil
}

// Lookup returns the option registered under key.
func (m *Menu) Lookup(key string) (MenuOption, bool) {
	i, ok := m.byKey[key]
	if !ok {
		return MenuOption{}, false
	}
	return m.options[i], true
}

// Options returns a copy of the options in display order.
func (m *Menu) Options() []MenuOption {
	out := make([]MenuOption, len(m.options))
	copy(out, m.options)
	return out
}

// Render formats the menu as a chat message: header, then "key. label" lines.
func (m *Menu) Render() string {
	var sb strings.Builder
	if m.header != "" {
		sb.WriteString(m.header)
		sb.WriteString("\n")
	}
	for _, opt := range m.options {
		fmt.Fprintf(&sb, "%s. %s\n", opt.Key, opt.Label)
	}
	return sb.String()
}

// closest returns the option whose lowercased label has the smallest edit
// distance to text. Ties keep the earlier option.
func (m *Menu) closest(text string) (MenuOption, int) {
	best, bestDist := -1, 0
	for i, label := range m.lower {
		d := Levenshtein(text, label)
		if best < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	return m.options[best], bestDist
}

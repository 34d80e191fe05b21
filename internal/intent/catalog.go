package intent

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Flow names used by the built-in menu.
const (
	FlowBugReport          = "bug_report"
	FlowAirtimeNotReceived = "airtime_not_received"
	FlowCheckBalance       = "check_balance"
	FlowPurchaseAirtime    = "purchase_airtime"
	FlowViewTransactions   = "view_transactions"
	FlowTalkToAgent        = "talk_to_agent"
	FlowFindUsers          = "find_users"
	FlowRecentPosts        = "recent_posts"
	FlowCountUsers         = "count_users"
	FlowListUsers          = "list_users"
	FlowInquiries          = "inquiries"
)

// Catalog is the dialog vocabulary: small-talk phrases, their replies and
// the menu. It is loaded once at startup and shared read-only.
type Catalog struct {
	Greetings         []string     `yaml:"greetings"`
	GreetingReply     string       `yaml:"greetingReply"`
	Appreciations     []string     `yaml:"appreciations"`
	AppreciationReply string       `yaml:"appreciationReply"`
	MenuHeader        string       `yaml:"menuHeader"`
	Options           []MenuOption `yaml:"options"`
}

// DefaultCatalog returns the built-in vocabulary.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Greetings:         []string{"hello", "hi", "hey", "start"},
		GreetingReply:     "Hello! I am your assistant. How can I assist you today? You can start with something like 'what is on your menu'.",
		Appreciations:     []string{"thanks", "thank you"},
		AppreciationReply: "You're welcome! If you have more questions, feel free to ask.",
		MenuHeader:        "Hello, nice to have you! Please select from our menu, how may we help you? :)",
		Options: []MenuOption{
			{Key: "1", Label: "Report a bug", Flow: FlowBugReport},
			{Key: "2", Label: "Report airtime not received", Flow: FlowAirtimeNotReceived},
			{Key: "3", Label: "Check balance", Flow: FlowCheckBalance},
			{Key: "4", Label: "Purchase airtime", Flow: FlowPurchaseAirtime},
			{Key: "5", Label: "View transactions", Flow: FlowViewTransactions},
			{Key: "6", Label: "Talk to an Agent", Flow: FlowTalkToAgent},
			{Key: "7", Label: "Search users", Flow: FlowFindUsers},
			{Key: "8", Label: "Check interesting chirps", Flow: FlowRecentPosts},
			{Key: "9", Label: "Count users", Flow: FlowCountUsers},
			{Key: "10", Label: "List users", Flow: FlowListUsers},
			{Key: "11", Label: "Make an inquiry", Flow: FlowInquiries},
		},
	}
}

// LoadCatalog reads a YAML catalog from path. An empty path or a missing file
// yields the built-in catalog; fields left empty in the file keep their
// built-in values.
func LoadCatalog(path string, logger *slog.Logger) (*Catalog, error) {
	cat := DefaultCatalog()
	if path == "" {
		return cat, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logger.Debug("dialog catalog not found, using built-in", "path", path)
		return cat, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var file Catalog
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	cat.merge(&file)

	logger.Info("loaded dialog catalog", "path", path, "options", len(cat.Options))
	return cat, nil
}

func (c *Catalog) merge(o *Catalog) {
	if len(o.Greetings) > 0 {
		c.Greetings = o.Greetings
	}
	if o.GreetingReply != "" {
		c.GreetingReply = o.GreetingReply
	}
	if len(o.Appreciations) > 0 {
		c.Appreciations = o.Appreciations
	}
	if o.AppreciationReply != "" {
		c.AppreciationReply = o.AppreciationReply
	}
	if o.MenuHeader != "" {
		c.MenuHeader = o.MenuHeader
	}
	if len(o.Options) > 0 {
		c.Options = o.Options
	}
}

// Menu builds the validated menu from the catalog options.
func (c *Catalog) Menu() (*Menu, error) {
	return NewMenu(c.MenuHeader, c.Options)
}

// Package intent turns free text into a menu selection or small talk.
package intent

import (
	"strconv"
	"strings"

	"crispdesk/internal/domain"
)

// Kind tags the variant of an Intent.
type Kind int

const (
	NoMatch Kind = iota
	Greeting
	Appreciation
	Numeric
	Named
)

func (k Kind) String() string {
	switch k {
	case Greeting:
		return "greeting"
	case Appreciation:
		return "appreciation"
	case Numeric:
		return "numeric"
	case Named:
		return "named"
	default:
		return "no_match"
	}
}

// Intent is the classified meaning of a message. Key is set for Numeric and
// Named intents and always names an option of the menu it was classified
// against.
type Intent struct {
	Kind     Kind
	Key      string
	Distance int    // edit distance for fuzzy Named matches
	Source   string // "phrase", "nlu", "menu" or "fuzzy"
}

// ClassifierConfig configures a Classifier.
type ClassifierConfig struct {
	Catalog        *Catalog
	FuzzyThreshold int               // max edit distance for a Named match
	NLULabels      map[string]string // NLU label -> menu key
	MinConfidence  float64           // NLU labels below this are ignored
}

// Classifier turns free text into an Intent. It holds no mutable state and
// is safe for concurrent use.
type Classifier struct {
	greetings     map[string]struct{}
	appreciations map[string]struct{}
	threshold     int
	nluLabels     map[string]string
	minConfidence float64
}

func NewClassifier(cfg ClassifierConfig) *Classifier {
	cat := cfg.Catalog
	if cat == nil {
		cat = DefaultCatalog()
	}
	c := &Classifier{
		greetings:     phraseSet(cat.Greetings),
		appreciations: phraseSet(cat.Appreciations),
		threshold:     cfg.FuzzyThreshold,
		nluLabels:     make(map[string]string, len(cfg.NLULabels)),
		minConfidence: cfg.MinConfidence,
	}
	for label, key := range cfg.NLULabels {
		c.nluLabels[strings.ToLower(label)] = key
	}
	return c
}

// WithCatalog returns a copy of c that recognises the small-talk phrases of
// cat. Threshold and NLU mapping are kept.
func (c *Classifier) WithCatalog(cat *Catalog) *Classifier {
	cp := *c
	cp.greetings = phraseSet(cat.Greetings)
	cp.appreciations = phraseSet(cat.Appreciations)
	return &cp
}

func phraseSet(phrases []string) map[string]struct{} {
	set := make(map[string]struct{}, len(phrases))
	for _, p := range phrases {
		set[Normalize(p)] = struct{}{}
	}
	return set
}

// Normalize trims and lowercases text before any comparison.
func Normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// Classify resolves text against menu. Small-talk phrases win over
// everything, then a recognised NLU label, then a numeric key, then the
// closest label within the fuzzy threshold. nlu may be nil.
func (c *Classifier) Classify(text string, menu *Menu, nlu *domain.NLUResult) Intent {
	norm := Normalize(text)

	if _, ok := c.greetings[norm]; ok {
		return Intent{Kind: Greeting, Source: "phrase"}
	}
	if _, ok := c.appreciations[norm]; ok {
		return Intent{Kind: Appreciation, Source: "phrase"}
	}
	if norm == "" || menu == nil {
		return Intent{Kind: NoMatch}
	}

	if top, ok := nlu.Top(); ok && top.Confidence >= c.minConfidence {
		if key, ok := c.nluLabels[strings.ToLower(top.Name)]; ok {
			if _, exists := menu.Lookup(key); exists {
				return Intent{Kind: Named, Key: key, Source: "nlu"}
			}
		}
	}

	if isNumeric(norm) {
		if _, ok := menu.Lookup(norm); ok {
			return Intent{Kind: Numeric, Key: norm, Source: "menu"}
		}
	}

	opt, dist := menu.closest(norm)
	if dist <= c.threshold {
		return Intent{Kind: Named, Key: opt.Key, Distance: dist, Source: "fuzzy"}
	}
	return Intent{Kind: NoMatch, Distance: dist}
}

func isNumeric(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

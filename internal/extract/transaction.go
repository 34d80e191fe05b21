// Package extract pulls structured fields out of free-text payment
// notifications. Extraction never fails: unmatched fields carry NotAvailable.
package extract

import (
	"fmt"
	"regexp"
	"strings"
)

// NotAvailable is the value of every field the extractor could not find.
const NotAvailable = "N/A"

// DefaultPattern matches the mobile-money notification format:
//
//	Transaction of 500 FCFA via MTN Mobile Money was successful. Payment ID: P1.
//	Transaction ID: T1. External Transaction ID: E1. Date: 2024-01-15 10:30:00.
//	Reason: Airtime purchase.
const DefaultPattern = `(?is)transaction of\s+(?P<amount>[0-9][0-9.,]*(?:\s*[a-z]+)?)\s+via\s+(?P<paymentMethod>.+?)\s+(?:was|has been)\s+\w+\.\s*` +
	`payment id:\s*(?P<paymentId>\S+?)\.?\s+` +
	`transaction id:\s*(?P<transactionId>\S+?)\.?\s+` +
	`external transaction id:\s*(?P<externalTransactionId>\S+?)\.?\s+` +
	`date:\s*(?P<date>.+?)\.\s+` +
	`reason:\s*(?P<reason>.+?)\.?\s*$`

// TransactionDetails holds the fields of one notification.
type TransactionDetails struct {
	Amount                string
	PaymentMethod         string
	PaymentID             string
	TransactionID         string
	ExternalTransactionID string
	Date                  string
	Reason                string
}

// Field is a labelled value, used for rendering summaries in a fixed order.
type Field struct {
	Label string
	Value string
}

func emptyDetails() TransactionDetails {
	return TransactionDetails{
		Amount:                NotAvailable,
		PaymentMethod:         NotAvailable,
		PaymentID:             NotAvailable,
		TransactionID:         NotAvailable,
		ExternalTransactionID: NotAvailable,
		Date:                  NotAvailable,
		Reason:                NotAvailable,
	}
}

// Fields lists the details in display order.
func (d TransactionDetails) Fields() []Field {
	return []Field{
		{"Amount", d.Amount},
		{"Payment method", d.PaymentMethod},
		{"Payment ID", d.PaymentID},
		{"Transaction ID", d.TransactionID},
		{"External transaction ID", d.ExternalTransactionID},
		{"Date", d.Date},
		{"Reason", d.Reason},
	}
}

// Found reports whether at least one field was extracted.
func (d TransactionDetails) Found() bool {
	for _, f := range d.Fields() {
		if f.Value != NotAvailable {
			return true
		}
	}
	return false
}

// Summary renders the details one field per line.
func (d TransactionDetails) Summary() string {
	var sb strings.Builder
	for _, f := range d.Fields() {
		fmt.Fprintf(&sb, "%s: %s\n", f.Label, f.Value)
	}
	return sb.String()
}

// Extractor tries its patterns in order and keeps the first match.
type Extractor struct {
	patterns []*regexp.Regexp
}

// NewExtractor compiles patterns. Group names are matched to fields
// case-insensitively and ignoring underscores, so both paymentId and
// payment_id work. With no patterns the DefaultPattern is used.
func NewExtractor(patterns []string) (*Extractor, error) {
	if len(patterns) == 0 {
		patterns = []string{DefaultPattern}
	}
	e := &Extractor{}
	for i, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("pattern %d: %w", i, err)
		}
		e.patterns = append(e.patterns, re)
	}
	return e, nil
}

// Extract returns the details found in text.
func (e *Extractor) Extract(text string) TransactionDetails {
	details := emptyDetails()
	for _, re := range e.patterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		for i, name := range re.SubexpNames() {
			if name == "" {
				continue
			}
			if v := strings.TrimSpace(m[i]); v != "" {
				details.set(name, v)
			}
		}
		return details
	}
	return details
}

func (d *TransactionDetails) set(group, value string) {
	switch strings.ReplaceAll(strings.ToLower(group), "_", "") {
	case "amount":
		d.Amount = value
	case "paymentmethod":
		d.PaymentMethod = value
	case "paymentid":
		d.PaymentID = value
	case "transactionid":
		d.TransactionID = value
	case "externaltransactionid":
		d.ExternalTransactionID = value
	case "date":
		d.Date = value
	case "reason":
		d.Reason = value
	}
}

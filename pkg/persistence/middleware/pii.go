package middleware

import (
	"context"
	"fmt"
	"regexp"

	"github.com/aretw0/recall/pkg/ports"
)

// Mask replaces every redacted match.
const Mask = "***"

// DefaultPIIPatterns match e-mail addresses, card-like digit runs and phone numbers.
var DefaultPIIPatterns = []string{
	`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`,
	`\b\d(?:[ \-]?\d){12,18}\b`,
	`\+?\d{1,3}[ .\-]?\(?\d{2,4}\)?[ .\-]?\d{3,5}[ .\-]?\d{4}\b`,
}

type piiMemory struct {
	next     ports.MemoryStore
	patterns []*regexp.Regexp
}

// NewPIIMemory wraps a memory store so every saved memory has the matches of patterns
// masked before it is persisted. Searches are passed through unchanged.
func NewPIIMemory(next ports.MemoryStore, patternStrings []string) (ports.MemoryStore, error) {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("pii pattern %d: %w", i, err)
		}
		patterns[i] = re
	}
	return &piiMemory{next: next, patterns: patterns}, nil
}

func (m *piiMemory) Save(ctx context.Context, ownerID, text string) error {
	return m.next.Save(ctx, ownerID, Redact(text, m.patterns))
}

func (m *piiMemory) Search(ctx context.Context, ownerID, query string, limit int) ([]string, error) {
	return m.next.Search(ctx, ownerID, query, limit)
}

// Redact masks every match of patterns in text.
func Redact(text string, patterns []*regexp.Regexp) string {
	for _, p := range patterns {
		text = p.ReplaceAllString(text, Mask)
	}
	return text
}

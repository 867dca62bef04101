package service

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// newID returns a time-ordered UUID so that IDs sort roughly by creation.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// normalizeText trims s and folds it to NFC so visually equal strings compare equal.
func normalizeText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// normalizeTags normalises, drops empties and duplicates, and sorts.
func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = normalizeText(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func utcNow() time.Time {
	return time.Now().UTC()
}

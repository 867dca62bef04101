package model

import (
	"fmt"
	"strings"
)

// Priority is ordered: a higher value is more urgent.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityHigh
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "0":
		return PriorityLow, nil
	case "", "medium", "1":
		return PriorityMedium, nil
	case "high", "2":
		return PriorityHigh, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", s)
	}
}

func (p Priority) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("unknown priority %d", int(p))
	}
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(data []byte) error {
	parsed, err := ParsePriority(string(data))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// CategoryUsage counts activities filed under one category name.
type CategoryUsage struct {
	Name  string
	Count int64
}

package retry

import (
	"fmt"
	"maps"
	"strings"
)

// Class is the retryability of a failure kind.
type Class int

const (
	// Retryable failures consume an attempt and are tried again.
	Retryable Class = iota
	// NonRetryable failures end the tenant immediately.
	NonRetryable
)

func (c Class) String() string {
	switch c {
	case Retryable:
		return "retryable"
	case NonRetryable:
		return "non_retryable"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// ParseClass parses "retryable" or "non_retryable" (case-insensitive,
// "-" accepted for "_").
func ParseClass(s string) (Class, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_") {
	case "retryable":
		return Retryable, nil
	case "non_retryable", "nonretryable":
		return NonRetryable, nil
	default:
		return Retryable, fmt.Errorf("retry: unknown class %q", s)
	}
}

// Classifier maps failure kinds to a Class. Kinds without a rule,
// including KindUnknown, get Default.
type Classifier struct {
	Rules   map[Kind]Class
	Default Class
}

// DefaultClassifier gives up on panics and cancellation and retries
// everything else.
func DefaultClassifier() *Classifier {
	return &Classifier{
		Rules: map[Kind]Class{
			KindTimeout:   Retryable,
			KindPanic:     NonRetryable,
			KindSetup:     Retryable,
			KindCancelled: NonRetryable,
		},
		Default: Retryable,
	}
}

// Classify returns the class for kind.
func (c *Classifier) Classify(kind Kind) Class {
	if c == nil {
		return Retryable
	}
	if cls, ok := c.Rules[kind]; ok {
		return cls
	}
	return c.Default
}

// With returns a copy of c with rules layered on top. c is not modified.
func (c *Classifier) With(rules map[Kind]Class) *Classifier {
	out := &Classifier{Rules: make(map[Kind]Class, len(rules))}
	if c != nil {
		maps.Copy(out.Rules, c.Rules)
		out.Default = c.Default
	}
	maps.Copy(out.Rules, rules)
	return out
}

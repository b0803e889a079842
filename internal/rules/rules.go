// Package rules implements the predicate model for auto-reply rules: a rule
// is a named, enableable conjunction of conditions over an email, plus the
// free-text instructions used to generate the reply.
package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Condition fields.
const (
	FieldFrom    = "from"
	FieldSubject = "subject"
	FieldBody    = "body"
)

// Condition operators.
const (
	OpContains   = "contains"
	OpEquals     = "equals"
	OpStartsWith = "startswith"
	OpRegex      = "regex"
)

// Condition is a single field/operator/value predicate over an email.
type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

// Rule pairs a condition set with reply instructions. Conditions are
// evaluated as a conjunction; order is preserved for display only.
type Rule struct {
	ID                string      `json:"id"`
	Name              string      `json:"name"`
	Enabled           bool        `json:"enabled"`
	Conditions        []Condition `json:"conditions"`
	ReplyInstructions string      `json:"replyInstructions"`
	CreatedAt         time.Time   `json:"createdAt"`
}

// Email is the evaluation view of a message. Threading identifiers live on
// the mailbox message; matching only ever sees these three fields.
type Email struct {
	From    string
	Subject string
	Body    string
}

// Matches reports whether the rule applies to the email: the rule must be
// enabled and every condition must hold. Pure and side-effect free.
func (r Rule) Matches(email Email) bool {
	if !r.Enabled {
		return false
	}
	for _, c := range r.Conditions {
		if !c.Matches(email) {
			return false
		}
	}
	return true
}

// Matches evaluates the condition against the email. Comparisons for
// contains/equals/startswith are case-insensitive. A regex condition is
// compiled case-insensitively against the original-case field value; a
// malformed pattern evaluates to non-match rather than failing.
func (c Condition) Matches(email Email) bool {
	field, ok := fieldValue(c.Field, email)
	if !ok {
		return false
	}

	switch c.Operator {
	case OpContains:
		return strings.Contains(strings.ToLower(field), strings.ToLower(c.Value))
	case OpEquals:
		return strings.EqualFold(field, c.Value)
	case OpStartsWith:
		return strings.HasPrefix(strings.ToLower(field), strings.ToLower(c.Value))
	case OpRegex:
		re, err := regexp.Compile("(?i)" + c.Value)
		if err != nil {
			return false
		}
		return re.MatchString(field)
	default:
		return false
	}
}

func fieldValue(field string, email Email) (string, bool) {
	switch field {
	case FieldFrom:
		return email.From, true
	case FieldSubject:
		return email.Subject, true
	case FieldBody:
		return email.Body, true
	default:
		return "", false
	}
}

// Validate reports whether the rule is well-formed enough to store: a name,
// at least one condition, and known fields and operators throughout.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("rule name is required")
	}
	if len(r.Conditions) == 0 {
		return errors.New("rule must have at least one condition")
	}
	for _, c := range r.Conditions {
		if _, ok := fieldValue(c.Field, Email{}); !ok {
			return fmt.Errorf("unknown condition field %q", c.Field)
		}
		switch c.Operator {
		case OpContains, OpEquals, OpStartsWith, OpRegex:
		default:
			return fmt.Errorf("unknown condition operator %q", c.Operator)
		}
	}
	return nil
}

// Enabled returns the subset of rs that is enabled, preserving stored order.
func Enabled(rs []Rule) []Rule {
	var out []Rule
	for _, r := range rs {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}

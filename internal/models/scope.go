package models

import (
	"strings"
	"time"
)

// Scope selects which members of a recurring series an edit or delete touches.
type Scope string

const (
	ScopeSingle Scope = "single"
	ScopeFuture Scope = "future"
	ScopeAll    Scope = "all"
)

// ParseScope normalises raw input into a Scope. Empty input yields "".
func ParseScope(raw string) (Scope, bool) {
	scope := Scope(strings.ToLower(strings.TrimSpace(raw)))
	if scope == "" {
		return "", true
	}
	return scope, scope.Valid()
}

// Valid reports whether the scope is one of the supported values.
func (s Scope) Valid() bool {
	switch s {
	case ScopeSingle, ScopeFuture, ScopeAll:
		return true
	default:
		return false
	}
}

// Selection is the resolved set of rows a scoped operation applies to.
type Selection struct {
	Scope    Scope     `json:"scope"`
	TargetID string    `json:"target_id"`
	RootID   string    `json:"root_id"`
	FromDate time.Time `json:"from_date,omitempty"`
}

// SelectOne targets exactly one row.
func SelectOne(id string) Selection {
	return Selection{Scope: ScopeSingle, TargetID: id, RootID: id}
}

// Matches evaluates the selection predicate against a row.
func (s Selection) Matches(c ClassInstance) bool {
	switch s.Scope {
	case ScopeSingle:
		return c.ID == s.TargetID
	case ScopeFuture:
		return s.inSeries(c) && !DateOnly(c.Date).Before(DateOnly(s.FromDate))
	case ScopeAll:
		return s.inSeries(c)
	default:
		return false
	}
}

// Filter returns the rows matched by the selection, preserving order.
func (s Selection) Filter(rows []ClassInstance) []ClassInstance {
	matched := make([]ClassInstance, 0, len(rows))
	for _, row := range rows {
		if s.Matches(row) {
			matched = append(matched, row)
		}
	}
	return matched
}

func (s Selection) inSeries(c ClassInstance) bool {
	if c.ID == s.RootID {
		return true
	}
	return c.ParentClassID != nil && *c.ParentClassID == s.RootID
}

package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"slices"
	"sort"
	"strings"
)

// ScopeKind names the rule that decides which courses a pool covers.
type ScopeKind string

const (
	ScopeOrg     ScopeKind = "org"
	ScopeTeam    ScopeKind = "team"
	ScopeCourses ScopeKind = "courses"
)

// Scope describes which members and courses a pool may allocate to.
//
// Precedence is fixed: an explicit course list wins over a team, and a team
// wins over the organization.  A course-list scope may still carry a TeamID,
// in which case only current members of that team are eligible.
type Scope struct {
	TeamID  *string    `json:"team_id,omitempty"`
	Courses CourseList `json:"courses,omitempty"`
}

// Kind returns the scope kind implied by the populated fields.
func (s Scope) Kind() ScopeKind {
	if len(s.Courses) > 0 {
		return ScopeCourses
	}
	if s.TeamID != nil && *s.TeamID != "" {
		return ScopeTeam
	}
	return ScopeOrg
}

// Team returns the team restriction, or "" for none.
func (s Scope) Team() string {
	if s.TeamID == nil {
		return ""
	}
	return *s.TeamID
}

// Normalize trims identifiers, drops blanks and sorts the course list so
// that equal scopes compare equal.
func (s Scope) Normalize() Scope {
	out := Scope{}
	if t := strings.TrimSpace(s.Team()); t != "" {
		out.TeamID = &t
	}
	out.Courses = s.Courses.Normalize()
	return out
}

// Equal reports whether two scopes cover the same members and courses.
func (s Scope) Equal(o Scope) bool {
	a, b := s.Normalize(), o.Normalize()
	return a.Team() == b.Team() && slices.Equal(a.Courses, b.Courses)
}

// CourseList is a set of course identifiers persisted as a JSON array.
type CourseList []string

// Normalize returns a sorted, de-duplicated copy without blanks.
func (l CourseList) Normalize() CourseList {
	if len(l) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(l))
	out := make(CourseList, 0, len(l))
	for _, c := range l {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

// Contains reports whether course is part of the list.
func (l CourseList) Contains(course string) bool {
	return slices.Contains(l, course)
}

// Value implements driver.Valuer.
func (l CourseList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *CourseList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return errors.New("course list: unsupported column type")
	}
	if len(raw) == 0 {
		*l = nil
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*l = CourseList(out).Normalize()
	return nil
}

package ir

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// Identity names one declared workflow item.
//
// An identity is either structured (name, version and an optional positional
// discriminator) or raw (an opaque string, typically a backend-visible id).
// Equality is case-insensitive on every component. Identities are immutable
// values and are safe to use as map keys through Key().
type Identity struct {
	name       string
	version    string
	positional string
	raw        string
	isRaw      bool
}

// NewIdentity creates a structured identity.
// The positional discriminator distinguishes two items declared with the
// same name and version (for example the same activity used twice).
func NewIdentity(name, version, positional string) Identity {
	return Identity{name: name, version: version, positional: positional}
}

// RawIdentity creates an identity from an opaque string.
func RawIdentity(s string) Identity {
	return Identity{raw: s, isRaw: true}
}

// Name returns the declared name, or the raw string for raw identities.
func (id Identity) Name() string {
	if id.isRaw {
		return id.raw
	}
	return id.name
}

// Version returns the declared version (empty for raw identities).
func (id Identity) Version() string { return id.version }

// Positional returns the positional discriminator.
func (id Identity) Positional() string { return id.positional }

// IsRaw reports whether the identity was built from an opaque string.
func (id Identity) IsRaw() bool { return id.isRaw }

// IsZero reports whether the identity is unset.
func (id Identity) IsZero() bool {
	return !id.isRaw && id.name == "" && id.version == "" && id.positional == ""
}

// Key returns the case-folded comparison key.
// Two identities are equal iff their keys are equal.
func (id Identity) Key() string {
	if id.isRaw {
		return fold(id.raw)
	}
	parts := []string{fold(id.name)}
	if id.version != "" || id.positional != "" {
		parts = append(parts, fold(id.version))
	}
	if id.positional != "" {
		parts = append(parts, fold(id.positional))
	}
	return strings.Join(parts, ".")
}

// Equal reports case-insensitive equality.
func (id Identity) Equal(other Identity) bool {
	return id.Key() == other.Key()
}

// ScheduleID returns the backend-visible id for this identity.
func (id Identity) ScheduleID() ScheduleID {
	return ScheduleID{key: id.Key()}
}

// String returns a human-readable form, e.g. "Download(1.0)#2".
func (id Identity) String() string {
	if id.isRaw {
		return id.raw
	}
	s := id.name
	if id.version != "" {
		s = fmt.Sprintf("%s(%s)", s, id.version)
	}
	if id.positional != "" {
		s = fmt.Sprintf("%s#%s", s, id.positional)
	}
	return s
}

// ParseIdentity parses the String form of a structured identity:
// "Name", "Name(version)", "Name#positional" or "Name(version)#positional".
func ParseIdentity(s string) (Identity, error) {
	rest := strings.TrimSpace(s)
	var positional string
	if i := strings.LastIndex(rest, "#"); i >= 0 {
		positional = rest[i+1:]
		rest = rest[:i]
		if positional == "" {
			return Identity{}, fmt.Errorf("identity %q: empty positional", s)
		}
	}
	var version string
	if strings.HasSuffix(rest, ")") {
		open := strings.LastIndex(rest, "(")
		if open < 0 {
			return Identity{}, fmt.Errorf("identity %q: unbalanced parenthesis", s)
		}
		version = rest[open+1 : len(rest)-1]
		rest = rest[:open]
		if version == "" {
			return Identity{}, fmt.Errorf("identity %q: empty version", s)
		}
	}
	if rest == "" || strings.ContainsAny(rest, "()#") {
		return Identity{}, fmt.Errorf("identity %q: invalid name", s)
	}
	return NewIdentity(rest, version, positional), nil
}

// scopeSeparator joins a schedule id to the run id that scopes it.
const scopeSeparator = "@"

// ScheduleID correlates a workflow item with its history events.
//
// It is used as the activity id, timer id, lambda id or child workflow id
// submitted to the backend, so it must be identical on every replay. A
// ScheduleID may additionally be scoped by a parent run id; child workflow
// ids are scoped this way so that two runs of the same parent never start
// children with colliding workflow ids.
type ScheduleID struct {
	key   string
	scope string
}

// ScheduleIDFromString rebuilds an unscoped ScheduleID from a backend id.
func ScheduleIDFromString(s string) ScheduleID {
	return ScheduleID{key: fold(s)}
}

// ParseScopedScheduleID rebuilds a ScheduleID from a run-scoped id such as
// a child workflow id. Ids without a scope parse as unscoped.
func ParseScopedScheduleID(s string) ScheduleID {
	if i := strings.LastIndex(s, scopeSeparator); i > 0 {
		return ScheduleID{key: fold(s[:i]), scope: s[i+1:]}
	}
	return ScheduleID{key: fold(s)}
}

// Scoped returns a copy of the id scoped by runID.
func (s ScheduleID) Scoped(runID string) ScheduleID {
	return ScheduleID{key: s.key, scope: runID}
}

// Unscoped drops the run scope.
func (s ScheduleID) Unscoped() ScheduleID {
	return ScheduleID{key: s.key}
}

// Key returns the unscoped comparison key.
func (s ScheduleID) Key() string { return s.key }

// Scope returns the run id scope, if any.
func (s ScheduleID) Scope() string { return s.scope }

// IsZero reports whether the id is unset.
func (s ScheduleID) IsZero() bool { return s.key == "" }

// String returns the backend-visible form.
func (s ScheduleID) String() string {
	if s.scope == "" {
		return s.key
	}
	return s.key + scopeSeparator + s.scope
}

// fold applies full Unicode case folding.
// A fresh Caser is used per call since Casers are stateful.
func fold(s string) string {
	return cases.Fold().String(s)
}

// NormalizeName case-folds a free-form name such as a signal name so that
// names compare case-insensitively by plain string equality.
func NormalizeName(s string) string {
	return fold(s)
}

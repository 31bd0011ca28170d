package participant

import "strings"

// ID identifies a participant. The same value is used as the registry key,
// the turn author, and the scoring-history key so identifiers cannot drift
// between components.
type ID string

// SystemID is the synthetic pseudo-participant that authors seed turns.
const SystemID ID = "system"

func (id ID) String() string { return string(id) }

// IsSystem reports whether the id belongs to the synthetic system author.
func (id ID) IsSystem() bool { return id == SystemID }

// NormalizeID canonicalizes a raw identifier. Normalization happens exactly
// once, at registry construction; the hot path never re-normalizes.
func NormalizeID(raw string) ID {
	return ID(strings.ToLower(strings.TrimSpace(raw)))
}

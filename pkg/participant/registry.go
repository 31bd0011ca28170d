package participant

import (
	"github.com/pkg/errors"
)

// Info describes one registered participant.
type Info struct {
	ID        ID
	Name      string
	Role      string
	Generator Generator
}

// Registry is the immutable participant set for one session. It preserves
// registration order, which the decision policy uses for deterministic
// cold-start selection and tie-breaking. Built once at session start and
// read-only afterwards, so callers may share it without locking.
type Registry struct {
	order []ID
	byID  map[ID]Info
}

// NewRegistry validates and normalizes participant identities once, up
// front, instead of scattering defensive lookups through the hot path.
func NewRegistry(infos ...Info) (*Registry, error) {
	r := &Registry{byID: map[ID]Info{}}
	for _, info := range infos {
		id := NormalizeID(string(info.ID))
		if id == "" {
			return nil, errors.Errorf("participant registry: empty id for %q", info.Name)
		}
		if id.IsSystem() {
			return nil, errors.Errorf("participant registry: %q is reserved", SystemID)
		}
		if _, ok := r.byID[id]; ok {
			return nil, errors.Errorf("participant registry: duplicate id %q", id)
		}
		if info.Generator == nil {
			return nil, errors.Errorf("participant registry: participant %q has no generator", id)
		}
		info.ID = id
		if info.Name == "" {
			info.Name = string(id)
		}
		r.order = append(r.order, id)
		r.byID[id] = info
	}
	return r, nil
}

// IDs returns participant ids in registration order.
func (r *Registry) IDs() []ID {
	if r == nil {
		return nil
	}
	out := make([]ID, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) Get(id ID) (Info, bool) {
	if r == nil {
		return Info{}, false
	}
	info, ok := r.byID[id]
	return info, ok
}

// Contains reports whether id is registered. The system pseudo-participant
// is never registered but is always a valid turn author.
func (r *Registry) Contains(id ID) bool {
	if r == nil {
		return false
	}
	_, ok := r.byID[id]
	return ok
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.order)
}

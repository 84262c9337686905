package coordinator

import (
	"slices"
	"sync"
	"sync/atomic"
)

// registry is a concurrent map of live sessions keyed by the ID assigned at
// accept time. IDs start at 1 and are never reused by the same registry.
type registry struct {
	m      sync.Map
	lastID atomic.Uint32
}

func (r *registry) nextID() uint32 {
	return r.lastID.Add(1)
}

func (r *registry) store(s *Session) {
	r.m.Store(s.id, s)
}

func (r *registry) load(id uint32) (*Session, bool) {
	v, found := r.m.Load(id)
	if !found {
		return nil, false
	}

	return v.(*Session), true
}

func (r *registry) delete(id uint32) {
	r.m.Delete(id)
}

// each calls f for every session until f returns false.
func (r *registry) each(f func(s *Session) bool) {
	r.m.Range(func(_, v any) bool {
		return f(v.(*Session))
	})
}

// ids returns the IDs of all sessions in ascending order.
func (r *registry) ids() []uint32 {
	var out []uint32
	r.each(func(s *Session) bool {
		out = append(out, s.id)
		return true
	})

	slices.Sort(out)
	return out
}

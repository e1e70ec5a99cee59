// Package room tracks which live connections belong to which conversation room.
package room

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/ashureev/polly/internal/domain"
)

// ErrNilMember is returned when joining a nil member.
var ErrNilMember = errors.New("nil member")

// Member is one live connection that can receive events.
type Member interface {
	ID() string
	Send(ctx context.Context, ev domain.Event) error
}

// Registry maps room keys to their current members.
type Registry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomKey]map[string]Member
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[domain.RoomKey]map[string]Member)}
}

// Join adds m to the room, creating the room if needed.
func (r *Registry) Join(key domain.RoomKey, m Member) error {
	if m == nil {
		return ErrNilMember
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[key]
	if !ok {
		members = make(map[string]Member)
		r.rooms[key] = members
	}
	members[m.ID()] = m
	slog.Info("Room member joined", "room", key.String(), "conn_id", m.ID(), "members", len(members))
	return nil
}

// Leave removes m from the room. Only the instance that joined is removed,
// and the room is dropped once empty. Calling Leave twice is harmless.
func (r *Registry) Leave(key domain.RoomKey, m Member) {
	if m == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[key]
	if !ok {
		return
	}
	if current, exists := members[m.ID()]; exists && current == m {
		delete(members, m.ID())
		if len(members) == 0 {
			delete(r.rooms, key)
		}
		slog.Info("Room member left", "room", key.String(), "conn_id", m.ID(), "members", len(members))
	}
}

// Broadcast delivers ev to every current member of the room and returns how
// many accepted it. A failing member does not stop delivery to the others.
func (r *Registry) Broadcast(ctx context.Context, key domain.RoomKey, ev domain.Event) int {
	delivered := 0
	for _, m := range r.snapshot(key) {
		if err := m.Send(ctx, ev); err != nil {
			slog.Warn("Room delivery failed", "room", key.String(), "conn_id", m.ID(), "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// Send delivers ev to m alone, for events meant only for the sender.
// A failure is logged with the room and returned.
func (r *Registry) Send(ctx context.Context, key domain.RoomKey, m Member, ev domain.Event) error {
	if err := m.Send(ctx, ev); err != nil {
		slog.Warn("Direct delivery failed", "room", key.String(), "conn_id", m.ID(), "error", err)
		return err
	}
	return nil
}

// Size returns the number of members in the room.
func (r *Registry) Size(key domain.RoomKey) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[key])
}

// Stats summarizes live rooms.
type Stats struct {
	Rooms   int            `json:"rooms"`
	Members int            `json:"members"`
	ByRoom  map[string]int `json:"by_room"`
}

// Stats returns a snapshot of room occupancy.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Stats{Rooms: len(r.rooms), ByRoom: make(map[string]int, len(r.rooms))}
	for key, members := range r.rooms {
		s.Members += len(members)
		s.ByRoom[key.String()] = len(members)
	}
	return s
}

func (r *Registry) snapshot(key domain.RoomKey) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[key]
	out := make([]Member, 0, len(members))
	for _, m := range members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

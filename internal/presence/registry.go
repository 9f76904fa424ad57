// Package presence tracks which live connections are in which room, along
// with their typing state and last activity.
//
// A Registry is not safe for concurrent use. Its owner is expected to guard
// it with a single mutex so that a mutation and the snapshot it produces are
// observed together.
package presence

import (
	"sort"
	"time"

	"github.com/npezzotti/go-relay/internal/types"
	"github.com/samber/lo"
)

type Entry struct {
	ConnId     string
	Username   string
	Typing     bool
	LastActive time.Time
	seq        uint64
}

type Registry struct {
	// Now returns the current time. Tests replace it to control expiry.
	Now   func() time.Time
	rooms map[string]map[string]*Entry
	seq   uint64
}

func NewRegistry() *Registry {
	return &Registry{
		Now:   time.Now,
		rooms: make(map[string]map[string]*Entry),
	}
}

// Join adds connId to room, or refreshes its name and activity if it is
// already there. A re-join keeps the entry's position in the snapshot.
func (r *Registry) Join(room, connId, username string) {
	bucket, ok := r.rooms[room]
	if !ok {
		bucket = make(map[string]*Entry)
		r.rooms[room] = bucket
	}

	now := r.Now()
	if e, ok := bucket[connId]; ok {
		e.Username = username
		e.Typing = false
		e.LastActive = now
		return
	}

	r.seq++
	bucket[connId] = &Entry{
		ConnId:     connId,
		Username:   username,
		LastActive: now,
		seq:        r.seq,
	}
}

// Leave removes connId from room and reports whether it was present.
func (r *Registry) Leave(room, connId string) bool {
	bucket, ok := r.rooms[room]
	if !ok {
		return false
	}

	if _, ok := bucket[connId]; !ok {
		return false
	}

	delete(bucket, connId)
	if len(bucket) == 0 {
		delete(r.rooms, room)
	}
	return true
}

// Touch refreshes the activity clock of connId in room.
func (r *Registry) Touch(room, connId string) bool {
	e := r.entry(room, connId)
	if e == nil {
		return false
	}

	e.LastActive = r.Now()
	return true
}

// SetTyping updates the typing flag of connId in room. Typing counts as
// activity.
func (r *Registry) SetTyping(room, connId string, typing bool) bool {
	e := r.entry(room, connId)
	if e == nil {
		return false
	}

	e.Typing = typing
	e.LastActive = r.Now()
	return true
}

func (r *Registry) Has(room, connId string) bool {
	return r.entry(room, connId) != nil
}

func (r *Registry) entry(room, connId string) *Entry {
	bucket, ok := r.rooms[room]
	if !ok {
		return nil
	}
	return bucket[connId]
}

// Snapshot returns a copy of every entry in room in join order.
func (r *Registry) Snapshot(room string) []Entry {
	bucket := r.rooms[room]
	entries := make([]Entry, 0, len(bucket))
	for _, e := range bucket {
		entries = append(entries, *e)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].seq < entries[j].seq
	})
	return entries
}

func (r *Registry) Count(room string) int {
	return len(r.rooms[room])
}

func (r *Registry) Rooms() []string {
	rooms := lo.Keys(r.rooms)
	sort.Strings(rooms)
	return rooms
}

// Sweep removes every entry whose last activity is more than ttl ago. It
// returns the number of evicted entries per room; rooms left empty are
// dropped.
func (r *Registry) Sweep(ttl time.Duration) map[string]int {
	now := r.Now()
	evicted := make(map[string]int)

	for room, bucket := range r.rooms {
		for connId, e := range bucket {
			if now.Sub(e.LastActive) > ttl {
				delete(bucket, connId)
				evicted[room]++
			}
		}

		if len(bucket) == 0 {
			delete(r.rooms, room)
		}
	}

	return evicted
}

// Dedupe converts entries into the user list sent to clients, keeping only
// the first entry seen for each display name.
func Dedupe(entries []Entry) []types.PresenceUser {
	unique := lo.UniqBy(entries, func(e Entry) string {
		return e.Username
	})

	return lo.Map(unique, func(e Entry, _ int) types.PresenceUser {
		return types.PresenceUser{
			Id:       e.ConnId,
			Username: e.Username,
			IsOnline: true,
			IsTyping: e.Typing,
		}
	})
}

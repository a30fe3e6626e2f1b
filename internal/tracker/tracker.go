// Package tracker implements the per-destination device-state map used by the
// queue layer to reject stale events and drive in-queue replacement.
//
// A Tracker belongs to exactly one destination queue. Sharing one tracker
// across destinations would let an accept on server A suppress the same event
// on server B, so the queue manager creates one tracker per server.
package tracker

import "time"

// State is the last accepted event for a device.
type State struct {
	LastTime time.Time
	LastLat  float64
	LastLon  float64
}

// Tracker maps device uid to its last accepted state. It performs no I/O and
// no locking; the owning queue serializes all access behind its own mutex.
type Tracker struct {
	states map[string]State
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{states: make(map[string]State)}
}

// ShouldAccept reports whether an event at ts for uid is admissible: true iff
// no state exists for uid, or ts is strictly newer than the stored timestamp.
// Equal timestamps are duplicates and are rejected.
func (t *Tracker) ShouldAccept(uid string, ts time.Time) bool {
	s, ok := t.states[uid]
	if !ok {
		return true
	}
	return ts.After(s.LastTime)
}

// Record overwrites the stored state for uid.
func (t *Tracker) Record(uid string, ts time.Time, lat, lon float64) {
	t.states[uid] = State{LastTime: ts, LastLat: lat, LastLon: lon}
}

// Get returns the stored state for uid.
func (t *Tracker) Get(uid string) (State, bool) {
	s, ok := t.states[uid]
	return s, ok
}

// Delete removes the state for uid, if any.
func (t *Tracker) Delete(uid string) {
	delete(t.states, uid)
}

// EvictOlderThan removes every entry whose timestamp is older than now-horizon
// and returns the evicted uids.
func (t *Tracker) EvictOlderThan(horizon time.Duration) []string {
	cutoff := time.Now().Add(-horizon)
	var evicted []string
	for uid, s := range t.states {
		if s.LastTime.Before(cutoff) {
			delete(t.states, uid)
			evicted = append(evicted, uid)
		}
	}
	return evicted
}

// Len returns the number of tracked devices.
func (t *Tracker) Len() int {
	return len(t.states)
}

// Reset drops all state. Used on hard queue flushes after configuration
// changes.
func (t *Tracker) Reset() {
	t.states = make(map[string]State)
}

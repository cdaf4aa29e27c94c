// Copyright (C) 2021 Storj Labs, Inc.
// See LICENSE for copying information.

package failrate

import (
	"sort"
)

// Info is the state of one tracked identity.
type Info struct {
	Identity string `json:"pubkey"`
	Bucket
}

// Registry maps identities to their buckets. Entries are only created by
// GetOrCreate and only removed by Remove, Clear or capacity eviction.
//
// Registry is not safe for concurrent use; Limiter serializes access to it.
type Registry struct {
	buckets  map[string]*Bucket
	capacity int
}

// NewRegistry returns an empty Registry. A positive capacity bounds the
// number of entries; see GetOrCreate.
func NewRegistry(capacity int) *Registry {
	return &Registry{
		buckets:  make(map[string]*Bucket),
		capacity: capacity,
	}
}

// Get returns a copy of the identity's bucket and whether an entry exists.
// A missing entry reads as a fresh bucket.
func (r *Registry) Get(identity string) (Bucket, bool) {
	if b, ok := r.buckets[identity]; ok {
		return *b, true
	}
	return NewBucket(), false
}

// GetOrCreate returns the identity's bucket, creating it if needed.
//
// When the registry is at capacity, creating an entry evicts the unlocked
// entry with the oldest last attempt. Locked entries are never evicted, so a
// registry full of lockouts grows past its capacity.
func (r *Registry) GetOrCreate(identity string, now int64) *Bucket {
	if b, ok := r.buckets[identity]; ok {
		return b
	}

	if r.capacity > 0 && len(r.buckets) >= r.capacity {
		r.evictOne(now)
	}

	b := NewBucket()
	r.buckets[identity] = &b
	return &b
}

func (r *Registry) evictOne(now int64) {
	var (
		victim string
		oldest int64
		found  bool
	)
	for identity, b := range r.buckets {
		if b.lockedAt(now) {
			continue
		}
		if !found || b.LastAttemptUnix < oldest || (b.LastAttemptUnix == oldest && identity < victim) {
			victim, oldest, found = identity, b.LastAttemptUnix, true
		}
	}
	if found {
		mon.Event("failrate_identity_evicted")
		delete(r.buckets, victim)
	}
}

// put stores a copy of b for identity, ignoring capacity.
func (r *Registry) put(identity string, b Bucket) {
	r.buckets[identity] = &b
}

// Remove deletes the identity's entry and reports whether it existed.
func (r *Registry) Remove(identity string) bool {
	if _, ok := r.buckets[identity]; !ok {
		return false
	}
	delete(r.buckets, identity)
	return true
}

// Clear deletes every entry and returns how many were deleted.
func (r *Registry) Clear() int {
	n := len(r.buckets)
	clear(r.buckets)
	return n
}

// Len returns the number of entries.
func (r *Registry) Len() int { return len(r.buckets) }

// List returns a snapshot of every entry sorted by identity. Callers should
// not depend on the order.
func (r *Registry) List() []Info {
	infos := make([]Info, 0, len(r.buckets))
	for identity, b := range r.buckets {
		infos = append(infos, Info{Identity: identity, Bucket: *b})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Identity < infos[j].Identity })
	return infos
}

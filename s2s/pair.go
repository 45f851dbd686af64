// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package s2s

import (
	"sync"

	"github.com/xmppd/s2sd/jid"
)

// pairSet is the set of domain pairs an outgoing link is authorized to
// carry. Writes are serialized by mu; reads take a snapshot under RLock so
// they never block a concurrent writer for long.
type pairSet struct {
	mu   sync.RWMutex
	set  map[jid.DomainPair]struct{}
	on   func(jid.DomainPair)
}

func newPairSet(onAdd func(jid.DomainPair)) *pairSet {
	return &pairSet{
		set: make(map[jid.DomainPair]struct{}),
		on:  onAdd,
	}
}

// add inserts pair into the set and notifies the routing table. It is
// idempotent: adding a pair that is already present is a no-op besides the
// routing table call, which itself must tolerate duplicate registration.
func (s *pairSet) add(pair jid.DomainPair) {
	s.mu.Lock()
	_, exists := s.set[pair]
	if !exists {
		s.set[pair] = struct{}{}
	}
	s.mu.Unlock()
	if s.on != nil {
		s.on(pair)
	}
}

// contains reports whether pair is authorized on this link.
func (s *pairSet) contains(pair jid.DomainPair) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.set[pair]
	return ok
}

// all returns a snapshot of every pair currently authorized on this link.
func (s *pairSet) all() []jid.DomainPair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pairs := make([]jid.DomainPair, 0, len(s.set))
	for p := range s.set {
		pairs = append(pairs, p)
	}
	return pairs
}

// len reports how many pairs are currently authorized.
func (s *pairSet) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.set)
}

// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package s2s

import "sync/atomic"

// Stats holds process-wide counters for the outgoing session engine. All
// fields are accessed atomically and may be read concurrently with
// updates; the zero value is ready to use.
type Stats struct {
	Attempts          uint64
	SuccessSASL       uint64
	SuccessDialback   uint64
	Failures          uint64
	Bounces           uint64
	PiggybackReuses   uint64
}

func (s *Stats) incAttempts()        { atomic.AddUint64(&s.Attempts, 1) }
func (s *Stats) incSuccess(m AuthMethod) {
	switch m {
	case AuthSASLExternal:
		atomic.AddUint64(&s.SuccessSASL, 1)
	case AuthDialback:
		atomic.AddUint64(&s.SuccessDialback, 1)
	}
}
func (s *Stats) incFailures()        { atomic.AddUint64(&s.Failures, 1) }
func (s *Stats) incBounces()         { atomic.AddUint64(&s.Bounces, 1) }
func (s *Stats) incPiggybackReuses() { atomic.AddUint64(&s.PiggybackReuses, 1) }

// Snapshot is a point-in-time copy of the counters, safe to read without
// further synchronization.
type Snapshot struct {
	Attempts        uint64
	SuccessSASL     uint64
	SuccessDialback uint64
	Failures        uint64
	Bounces         uint64
	PiggybackReuses uint64
}

// Snapshot returns a consistent-enough copy of the current counters for
// reporting; individual fields are read atomically but not as a single
// transaction.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Attempts:        atomic.LoadUint64(&s.Attempts),
		SuccessSASL:     atomic.LoadUint64(&s.SuccessSASL),
		SuccessDialback: atomic.LoadUint64(&s.SuccessDialback),
		Failures:        atomic.LoadUint64(&s.Failures),
		Bounces:         atomic.LoadUint64(&s.Bounces),
		PiggybackReuses: atomic.LoadUint64(&s.PiggybackReuses),
	}
}

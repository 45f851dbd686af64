// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package s2s

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xmppd/s2sd/jid"
)

// IncomingSession describes an inbound session the reuse planner (E) can
// inspect to discover sub/superdomains hosted by the same remote peer. It
// is intentionally a narrow interface: incoming-session lifecycle and
// dialback-responder bookkeeping belong to a collaborator outside this
// package.
type IncomingSession interface {
	// Origin is the bare domain of the peer that opened the session.
	Origin() string
	// Validated returns every domain the peer proved it controls via
	// dialback on this incoming session.
	Validated() []string
}

// IncomingSessionSource supplies incoming sessions to the reuse planner.
// An engine embedding this package must implement it against its own
// incoming-session bookkeeping; s2s never creates incoming sessions
// itself (dialback-responder is explicitly out of scope).
type IncomingSessionSource interface {
	IncomingSessionsFor(remote string) []IncomingSession
}

// Registry is the process-wide directory of live outgoing sessions,
// keyed by remote domain. Exactly one session is ever registered per
// (local, remote) pair (spec invariant 5); since every session in this
// engine shares a single local domain, the remote domain alone is
// sufficient as a key.
type Registry struct {
	log *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*OutgoingServerSession

	// detachGrace bounds how long a detached session is retained before
	// Sweep evicts it. Zero means a detached session is evicted by the next
	// Sweep.
	detachGrace time.Duration
	detachedAt  map[string]time.Time
}

// NewRegistry constructs an empty session registry. detachGrace configures
// the session-eviction grace period described in SPEC_FULL.md's
// supplemented features; zero disables the grace period.
func NewRegistry(log *zap.Logger, detachGrace time.Duration) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		log:         log,
		sessions:    make(map[string]*OutgoingServerSession),
		detachGrace: detachGrace,
		detachedAt:  make(map[string]time.Time),
	}
}

func normalizeDomain(d string) string {
	return strings.ToLower(d)
}

// GetOutgoing returns the session currently serving pair's remote domain,
// if any, and whether it actually carries pair.
func (r *Registry) GetOutgoing(pair jid.DomainPair) (*OutgoingServerSession, bool) {
	r.mu.RLock()
	sess, ok := r.sessions[normalizeDomain(pair.Remote())]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return sess, sess.HasPair(pair)
}

// SessionFor returns the session registered for remote, regardless of
// which pairs it currently carries, or nil if none exists.
func (r *Registry) SessionFor(remote string) *OutgoingServerSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[normalizeDomain(remote)]
}

// Register records a freshly authenticated outgoing session. It is the
// caller's responsibility (F) to have already added at least one pair to
// the session before calling Register, per spec invariant 1.
func (r *Registry) Register(sess *OutgoingServerSession) {
	r.mu.Lock()
	r.sessions[normalizeDomain(sess.Address())] = sess
	delete(r.detachedAt, normalizeDomain(sess.Address()))
	r.mu.Unlock()
	r.log.Debug("registered outgoing session", zap.String("remote", sess.Address()), zap.String("method", sess.Method().String()))
}

// Evict removes remote's session from the registry and closes its
// transport. It is safe to call even if no session is registered.
func (r *Registry) Evict(remote string) {
	key := normalizeDomain(remote)
	r.mu.Lock()
	sess, ok := r.sessions[key]
	delete(r.sessions, key)
	delete(r.detachedAt, key)
	r.mu.Unlock()
	if ok {
		_ = sess.Close()
	}
}

// Detach marks remote's session as transport-severed without evicting it,
// starting the detach-grace countdown that Sweep enforces.
func (r *Registry) Detach(remote string) {
	key := normalizeDomain(remote)
	r.mu.Lock()
	sess, ok := r.sessions[key]
	if ok {
		r.detachedAt[key] = time.Now()
	}
	r.mu.Unlock()
	if ok {
		sess.detach()
	}
}

// Reattach clears a prior Detach, cancelling its grace-period countdown.
func (r *Registry) Reattach(remote string) {
	key := normalizeDomain(remote)
	r.mu.Lock()
	sess, ok := r.sessions[key]
	delete(r.detachedAt, key)
	r.mu.Unlock()
	if ok {
		sess.mu.Lock()
		sess.detached = false
		sess.mu.Unlock()
	}
}

// Sweep evicts every detached session whose grace period has elapsed. It
// is intended to be called periodically by the owning engine; this
// package does not run its own timer.
func (r *Registry) Sweep() {
	now := time.Now()
	var expired []string
	r.mu.RLock()
	for key, at := range r.detachedAt {
		if now.Sub(at) >= r.detachGrace {
			expired = append(expired, key)
		}
	}
	r.mu.RUnlock()
	for _, key := range expired {
		r.Evict(key)
	}
}

// Close evicts every registered session, closing their transports.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := make([]*OutgoingServerSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*OutgoingServerSession)
	r.detachedAt = make(map[string]time.Time)
	r.mu.Unlock()
	for _, s := range sessions {
		_ = s.Close()
	}
}

// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package s2s implements the initiator side of XMPP server-to-server
// session establishment: connecting to a remote domain, negotiating TLS
// and an authentication method, and handing back a live, authorized
// session that the caller's router can address by domain pair.
package s2s // import "github.com/xmppd/s2sd/s2s"

import (
	"go.uber.org/zap"

	"github.com/xmppd/s2sd/jid"
	"github.com/xmppd/s2sd/s2s/dial"
)

// RoutingTable is notified whenever a session authorizes a new domain
// pair, so stanzas queued for that pair can be delivered without a second
// lookup through the registry. It lives outside this package because the
// routing decision (which local queue feeds which session) is the
// caller's concern, not the handshake engine's.
type RoutingTable interface {
	Route(pair jid.DomainPair, sess *OutgoingServerSession)
}

// noopRouting discards pair-added notifications. It backs Engine when the
// caller has no routing table of its own to wire in, e.g. in tests that
// only care about the handshake outcome.
type noopRouting struct{}

func (noopRouting) Route(jid.DomainPair, *OutgoingServerSession) {}

// noopIncoming reports no incoming sessions for any remote. It backs
// Engine when the caller has no incoming-session bookkeeping of its own
// (dialback-responder support is out of scope for this package).
type noopIncoming struct{}

func (noopIncoming) IncomingSessionsFor(string) []IncomingSession { return nil }

// Engine drives outgoing server-to-server session establishment end to
// end: it owns the session registry, the per-remote attempt lock, and the
// connector used to reach remote hosts. A single Engine is shared by every
// Authenticate call in a process; its fields are safe for concurrent use.
type Engine struct {
	cfg Config
	log *zap.Logger

	connector connector
	stats     *Stats
	registry  *Registry
	locker    *remoteLocker
	incoming  IncomingSessionSource
	routing   RoutingTable
}

// NewEngine constructs an Engine ready to authenticate outgoing sessions.
// log may be nil, in which case logging is discarded. incoming and
// routing may be nil, in which case the engine behaves as though no
// incoming sessions exist and pair additions are not routed anywhere
// (useful for tests, or a caller that only needs Stats/Registry).
func NewEngine(cfg Config, log *zap.Logger, incoming IncomingSessionSource, routing RoutingTable) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if incoming == nil {
		incoming = noopIncoming{}
	}
	if routing == nil {
		routing = noopRouting{}
	}
	e := &Engine{
		cfg:      cfg,
		log:      log,
		stats:    &Stats{},
		registry: NewRegistry(log, cfg.DetachGrace),
		locker:   newRemoteLocker(),
		incoming: incoming,
		routing:  routing,
	}
	e.connector = &dial.Dialer{}
	return e
}

// Stats returns the engine's live counters.
func (e *Engine) Stats() Snapshot { return e.stats.Snapshot() }

// Registry returns the engine's session directory, for callers that need
// to inspect or sweep it directly (e.g. a periodic detach-grace ticker).
func (e *Engine) Registry() *Registry { return e.registry }

// onPairAdd is the callback every session is constructed with: it looks
// the session back up by remote domain and forwards the newly authorized
// pair to the routing table. Looking the session up rather than closing
// over it directly avoids a chicken-and-egg reference at construction
// time, since a session cannot hand a pointer to itself to its own
// constructor.
func (e *Engine) onPairAdd(pair jid.DomainPair) {
	sess := e.registry.SessionFor(pair.Remote())
	if sess == nil {
		return
	}
	e.routing.Route(pair, sess)
}

// Close evicts and closes every outgoing session the engine manages. It
// does not cancel any Authenticate call in progress; callers should
// cancel their own contexts first.
func (e *Engine) Close() error {
	e.registry.Close()
	return nil
}

// Sweep evicts every session whose detach grace period has elapsed. The
// caller is expected to invoke this periodically (e.g. from a ticker);
// the engine does not run its own timer.
func (e *Engine) Sweep() { e.registry.Sweep() }

// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package s2s

import (
	"go.uber.org/zap"

	"github.com/xmppd/s2sd/jid"
)

// planReuse implements the reuse planner (spec.md §4.E): before the engine
// ever dials out for pair, it looks for an existing outgoing session that
// can carry pair without a fresh handshake. It returns the session that
// now (or already) carries pair, or nil if no existing session could be
// reused.
func (e *Engine) planReuse(pair jid.DomainPair, log *zap.Logger) *OutgoingServerSession {
	if sess, ok := e.registry.GetOutgoing(pair); ok {
		// Step 1: exact match, already carrying pair.
		return sess
	}

	if sess := e.registry.SessionFor(pair.Remote()); sess != nil {
		// Step 2: a session for (L, R) exists but doesn't carry pair yet.
		// Only a dialback session can piggyback a new pair onto itself;
		// SASL EXTERNAL authenticates the transport, not a per-pair claim.
		if !sess.CanPiggyback() {
			return nil
		}
		if e.piggyback(pair, sess, log) {
			return sess
		}
		return nil
	}

	// Step 3: no session at all for (L, R). Look for an outgoing session
	// to a subdomain or alias of R that the peer validated on an incoming
	// session, and piggyback pair onto that session instead.
	for _, inc := range e.incoming.IncomingSessionsFor(pair.Remote()) {
		for _, validated := range inc.Validated() {
			altPair, err := jid.NewDomainPair(pair.Local(), validated)
			if err != nil {
				continue
			}
			sess := e.registry.SessionFor(altPair.Remote())
			if sess == nil || sess.Method() != AuthDialback {
				continue
			}
			if e.piggyback(pair, sess, log) {
				return sess
			}
		}
	}
	return nil
}

// piggyback runs a dialback exchange for pair over sess's existing
// transport (step 4: "invoke dialback piggyback... run <db:result> for
// (L, R) over its transport"). On a positive verdict it adds pair to the
// session and returns true.
func (e *Engine) piggyback(pair jid.DomainPair, sess *OutgoingServerSession, log *zap.Logger) bool {
	conn := sess.Conn()
	key := DialbackKey(e.cfg.DialbackSecret, pair.Remote(), pair.Local(), sess.StreamID())
	if err := sendDialbackResult(conn, pair.Remote(), pair.Local(), key); err != nil {
		log.Warn("piggyback dialback write failed", zap.String("pair", pair.String()), zap.Error(err))
		return false
	}
	result, err := expectDialbackResult(sess.Reader())
	if err != nil {
		log.Warn("piggyback dialback read failed", zap.String("pair", pair.String()), zap.Error(err))
		return false
	}
	if !result.valid() {
		return false
	}
	sess.AddPair(pair)
	e.stats.incPiggybackReuses()
	return true
}

// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package s2s

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/xmppd/s2sd/jid"
)

// SessionCreatedEvent is published on every successful Authenticate call:
// when a handshake authenticates a new session for the pair, and when an
// existing session satisfies the request through reuse or piggyback,
// including a repeat call for a pair the session already carries.
type SessionCreatedEvent struct {
	Pair    jid.DomainPair
	Session *OutgoingServerSession
}

// EventSink receives the events an Engine publishes. Implementations must
// not block; the engine calls this synchronously from Authenticate.
type EventSink interface {
	SessionCreated(SessionCreatedEvent)
}

// Authenticate is the public entry point (spec.md §4.F): it authorizes
// pair to be carried by some outgoing session to pair.Remote(), reusing
// an existing session when possible and otherwise running a full
// handshake. It returns true once pair is authorized on a live session.
func (e *Engine) Authenticate(ctx context.Context, pair jid.DomainPair, sink EventSink) bool {
	remote := pair.Remote()

	// Step 1: reject empty or whitespace remotes.
	if strings.TrimSpace(remote) == "" || strings.ContainsAny(remote, " \t\r\n") {
		return false
	}

	// Step 2: federation/blocklist policy.
	if e.cfg.CanAccess != nil && !e.cfg.CanAccess(remote) {
		return false
	}

	log := e.log.With(zap.String("pair", pair.String()))

	var ok bool
	e.locker.withRemoteLock(remote, func() {
		// Step 3: the remote-auth mutex is now held for the duration of
		// this closure.

		// Step 4: ask the reuse planner first.
		if sess := e.planReuse(pair, log); sess != nil {
			e.publish(sink, pair, sess)
			ok = true
			return
		}

		// Step 6: run the full handshake.
		sess, err := e.handshake(ctx, pair)
		if err != nil {
			log.Info("outgoing handshake failed", zap.Error(err))
			ok = false
			return
		}

		// Step 7: guarantee no partially built session survives a failure
		// between here and registration.
		sess.AddPair(pair)
		e.registry.Register(sess)
		e.routing.Route(pair, sess)
		e.publish(sink, pair, sess)
		ok = true
	})
	return ok
}

func (e *Engine) publish(sink EventSink, pair jid.DomainPair, sess *OutgoingServerSession) {
	if sink == nil {
		return
	}
	sink.SessionCreated(SessionCreatedEvent{Pair: pair, Session: sess})
}

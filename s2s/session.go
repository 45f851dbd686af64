// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package s2s

import (
	"encoding/xml"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/xmppd/s2sd/jid"
)

// AuthMethod identifies how a session's peer was authenticated.
type AuthMethod int

const (
	// AuthUnknown is the zero value and should never be observed on a
	// session registered in the registry.
	AuthUnknown AuthMethod = iota
	// AuthDialback indicates the session was authenticated via Server
	// Dialback (XEP-0220), in or out of band.
	AuthDialback
	// AuthSASLExternal indicates the session was authenticated via SASL
	// EXTERNAL against the peer's TLS certificate.
	AuthSASLExternal
)

func (m AuthMethod) String() string {
	switch m {
	case AuthDialback:
		return "dialback"
	case AuthSASLExternal:
		return "sasl-external"
	default:
		return "unknown"
	}
}

// Status is the lifecycle state of an OutgoingServerSession.
type Status int

const (
	// StatusConnecting is set while the handshake is in progress. A
	// session in this state is never registered in the registry.
	StatusConnecting Status = iota
	// StatusAuthenticated is set when the session is constructed, once the
	// handshake succeeds.
	StatusAuthenticated
	// StatusClosed is set once the transport has been torn down.
	StatusClosed
)

// OutgoingServerSession is a live, authenticated outgoing S2S link to a
// remote domain. It is constructed only on handshake success (see
// handshake.go); partially authenticated attempts never produce one. A
// new session starts with an empty domain-pair set; spec invariant 1 (a
// non-empty set) holds once the caller adds the first pair, which
// Authenticate does before registering the session.
type OutgoingServerSession struct {
	log *zap.Logger

	// address is the remote bare domain this session was established to.
	address string
	// streamID is the opaque identifier the peer supplied at stream open.
	streamID string

	conn   net.Conn
	reader xml.TokenReader

	method AuthMethod

	pairs *pairSet

	mu         sync.Mutex
	status     Status
	encrypted  bool
	detached   bool
}

// newSession materializes a session in the StatusAuthenticated state. It
// must only be called once the handshake engine has confirmed
// authentication; the constructor itself does not perform any I/O.
func newSession(log *zap.Logger, address, streamID string, conn net.Conn, reader xml.TokenReader, method AuthMethod, encrypted bool, onPairAdd func(jid.DomainPair)) *OutgoingServerSession {
	if log == nil {
		log = zap.NewNop()
	}
	return &OutgoingServerSession{
		log:       log,
		address:   address,
		streamID:  streamID,
		conn:      conn,
		reader:    reader,
		method:    method,
		encrypted: encrypted,
		status:    StatusAuthenticated,
		pairs:     newPairSet(onPairAdd),
	}
}

// Address returns the remote domain this session was established to.
func (s *OutgoingServerSession) Address() string { return s.address }

// StreamID returns the identifier the peer supplied at stream open.
func (s *OutgoingServerSession) StreamID() string { return s.streamID }

// Method reports how the peer was authenticated.
func (s *OutgoingServerSession) Method() AuthMethod { return s.method }

// IsEncrypted reports whether the underlying transport is TLS-protected.
func (s *OutgoingServerSession) IsEncrypted() bool { return s.encrypted }

// CanPiggyback reports whether an additional domain pair may be authorized
// on this session via dialback piggyback. Spec invariant 4: SASL EXTERNAL
// sessions may never piggyback.
func (s *OutgoingServerSession) CanPiggyback() bool {
	return s.method != AuthSASLExternal
}

// Status returns the session's current lifecycle state.
func (s *OutgoingServerSession) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// IsDetached reports whether the transport has been severed while the
// session is logically retained for a grace period (see registry.go).
func (s *OutgoingServerSession) IsDetached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detached
}

// AddPair authorizes pair on this session and registers it with the
// routing table callback supplied at construction.
func (s *OutgoingServerSession) AddPair(pair jid.DomainPair) {
	s.pairs.add(pair)
}

// HasPair reports whether pair is currently authorized on this session.
func (s *OutgoingServerSession) HasPair(pair jid.DomainPair) bool {
	return s.pairs.contains(pair)
}

// Pairs returns a snapshot of every domain pair currently authorized on
// this session.
func (s *OutgoingServerSession) Pairs() []jid.DomainPair {
	return s.pairs.all()
}

// Conn returns the underlying transport. Callers that write to it directly
// (e.g. the dialback piggyback codec) are responsible for synchronizing
// with any other writer of this session.
func (s *OutgoingServerSession) Conn() net.Conn { return s.conn }

// Reader returns the XML token reader bound to this session's transport.
func (s *OutgoingServerSession) Reader() xml.TokenReader { return s.reader }

// detach marks the transport as severed without destroying the session,
// allowing a grace period for reattachment before eviction.
func (s *OutgoingServerSession) detach() {
	s.mu.Lock()
	s.detached = true
	s.mu.Unlock()
}

// Close tears down the transport and marks the session closed. It is safe
// to call multiple times.
func (s *OutgoingServerSession) Close() error {
	s.mu.Lock()
	if s.status == StatusClosed {
		s.mu.Unlock()
		return nil
	}
	s.status = StatusClosed
	s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

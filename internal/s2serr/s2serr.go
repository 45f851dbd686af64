// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package s2serr classifies the internal failure modes of outgoing
// server-to-server session establishment, independent of the XMPP-visible
// stream and stanza errors sent on the wire.
package s2serr // import "github.com/xmppd/s2sd/internal/s2serr"

import "github.com/zeebo/errs"

// Class prefixes the message of every Error with "s2s"; callers detect
// engine errors with errors.As against *Error.
var Class = errs.Class("s2s")

// Kind identifies which phase of outgoing session establishment failed.
type Kind int

// The kinds of failure the handshake engine can report, per the decision
// table that drives it: a failure at any step either retries the next
// candidate method or falls through to FAILED.
const (
	// KindUnknown is the zero value and should never be observed.
	KindUnknown Kind = iota

	// KindDial indicates that the underlying TCP or direct-TLS connection
	// could not be established (SRV lookup exhausted, connection refused,
	// timeout).
	KindDial

	// KindStreamOpen indicates that the opening stream header or its
	// features could not be read or parsed within the negotiation timeout.
	KindStreamOpen

	// KindTLS indicates that STARTTLS negotiation or certificate
	// verification failed.
	KindTLS

	// KindSASLExternal indicates that SASL EXTERNAL negotiation was
	// attempted and rejected by the remote.
	KindSASLExternal

	// KindDialback indicates that dialback (including the plain fallback)
	// failed to authorize the domain pair.
	KindDialback

	// KindPolicy indicates that a local policy decision refused to proceed
	// (e.g. tls_policy == required and the remote does not offer TLS).
	KindPolicy

	// KindTimeout indicates that a step exceeded its deadline.
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindDial:
		return "dial"
	case KindStreamOpen:
		return "stream-open"
	case KindTLS:
		return "tls"
	case KindSASLExternal:
		return "sasl-external"
	case KindDialback:
		return "dialback"
	case KindPolicy:
		return "policy"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is a classified failure from the outgoing session engine. The
// wrapped Cause is preserved and reachable with errors.As/errors.Unwrap.
type Error struct {
	Kind  Kind
	Pair  string
	Cause error
}

func (e *Error) Error() string {
	if e.Pair != "" {
		return Class.New("%s: %s: %v", e.Pair, e.Kind, e.Cause).Error()
	}
	return Class.New("%s: %v", e.Kind, e.Cause).Error()
}

func (e *Error) Unwrap() error { return e.Cause }

// New classifies cause as the given kind for the given domain pair
// (formatted as "local->remote", see jid.DomainPair.String).
func New(kind Kind, pair string, cause error) *Error {
	return &Error{Kind: kind, Pair: pair, Cause: cause}
}

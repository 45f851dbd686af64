// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package s2s

import "time"

// TLSPolicy controls whether, and how strictly, TLS is required on an
// outgoing link.
type TLSPolicy int

const (
	// TLSDisabled never sends STARTTLS. A connection the dialer reports as
	// direct TLS is still negotiated over TLS.
	TLSDisabled TLSPolicy = iota
	// TLSOptional negotiates TLS when the peer offers it but tolerates a
	// plaintext link otherwise.
	TLSOptional
	// TLSRequired aborts the handshake if the peer never offers TLS.
	TLSRequired
)

func (p TLSPolicy) String() string {
	switch p {
	case TLSDisabled:
		return "disabled"
	case TLSOptional:
		return "optional"
	case TLSRequired:
		return "required"
	default:
		return "unknown"
	}
}

// Config holds the policy knobs that drive the handshake engine, mirroring
// the configuration keys spec.md §6 documents (plus the local domain and
// remote port needed to run the engine outside of a full server).
type Config struct {
	// LocalDomain is the domain this engine asserts as 'from' on every
	// outgoing stream it opens.
	LocalDomain string

	// RemotePort is the default remote port used when SRV
	// discovery is disabled or fails. Corresponds to
	// xmpp.server.socket.remotePort; zero means dial.DefaultPort (5269).
	RemotePort int

	// TLSPolicyForDomain, when set, overrides TLSPolicy on a per-remote
	// basis. A nil function, or one returning false for a given remote,
	// falls back to TLSPolicy.
	TLSPolicyForDomain func(remote string) (TLSPolicy, bool)

	// TLSPolicy is the default tls_policy applied to every remote unless
	// TLSPolicyForDomain overrides it.
	TLSPolicy TLSPolicy

	// VerifyCertificate enables peer certificate verification
	// (xmpp.server.tls.certificate.verify / chain.verify).
	VerifyCertificate bool

	// AcceptSelfSigned permits self-signed peer certificates to pass
	// verification (xmpp.server.tls.certificate.accept-selfsigned).
	AcceptSelfSigned bool

	// StrictCertValidation aborts the handshake on any certificate
	// verification failure rather than allowing dialback to rescue it
	// (xmpp.server.strictCertificateValidation).
	StrictCertValidation bool

	// AllowPlainFallbackOnPlaintextDetection re-dials in plain mode when
	// a direct-TLS handshake reports that the peer sent plaintext
	// (xmpp.server.tls.on.plain.detection.allow.nondirecttls.fallback).
	AllowPlainFallbackOnPlaintextDetection bool

	// DialbackEnabled turns on the dialback namespace declaration and
	// dialback fallback/piggyback paths.
	DialbackEnabled bool

	// DialbackForSelfSigned allows a session to continue, unauthenticated
	// by TLS, over an encrypted-but-unverified channel when the peer's
	// certificate fails verification and dialback is available.
	DialbackForSelfSigned bool

	// DialbackSecret seeds DialbackKey. It must be kept secret and
	// constant across the process lifetime; rotating it invalidates
	// any dialback verification in flight with the authoritative
	// responder.
	DialbackSecret string

	// ReadTimeout bounds each blocking read during stream negotiation
	// (spec.md §4.D: 5s while awaiting the opening stream, then restored
	// to this socket default). Zero means no deadline is set.
	ReadTimeout time.Duration

	// StreamOpenTimeout is the fixed deadline for the initial stream-open
	// wait described in spec.md §4.D step 3. Zero defaults to 5 seconds.
	StreamOpenTimeout time.Duration

	// DetachGrace is the grace period a detached session is retained
	// before Registry.Sweep evicts it.
	DetachGrace time.Duration

	// CanAccess consults the allow/blocklist and federation toggle;
	// returning false denies the attempt without any network I/O (spec
	// §4.F step 2). A nil CanAccess permits every remote.
	CanAccess func(remote string) bool
}

func (c *Config) tlsPolicy(remote string) TLSPolicy {
	if c.TLSPolicyForDomain != nil {
		if p, ok := c.TLSPolicyForDomain(remote); ok {
			return p
		}
	}
	return c.TLSPolicy
}

func (c *Config) streamOpenTimeout() time.Duration {
	if c.StreamOpenTimeout > 0 {
		return c.StreamOpenTimeout
	}
	return 5 * time.Second
}

func (c *Config) remotePort() int {
	return c.RemotePort
}

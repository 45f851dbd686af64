// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package s2s

import (
	"errors"

	"mellium.im/sasl"
)

// errExternalReceiving is returned if the EXTERNAL mechanism is ever driven
// in the Receiving direction. This engine only ever dials out, so that
// should never happen; it's reported as an error rather than a panic so a
// misuse in a future receiving-side integration fails safely instead of
// crashing the process.
var errExternalReceiving = errors.New("s2s: EXTERNAL mechanism invoked as receiver, but this engine is initiator-only")

// TLSAuth returns a SASL mechanism that requests that the remote server
// authenticate the connection using the TLS client certificate presented
// during the handshake. This is an implementation of SASL EXTERNAL
// specifically tailored to XMPP server-to-server streams (RFC 6120 §6,
// XEP-0178): the initial response is the raw identity to assert;
// saslExternal base64-encodes it for the wire.
func TLSAuth() sasl.Mechanism {
	return sasl.Mechanism{
		Name: "EXTERNAL",
		Start: func(m *sasl.Negotiator) (bool, []byte, interface{}, error) {
			_, _, identity := m.Credentials()
			return false, identity, nil, nil
		},
		Next: func(m *sasl.Negotiator, challenge []byte, _ interface{}) (bool, []byte, interface{}, error) {
			// If we're a client, or we're a server that's past the AuthTextSent step,
			// we should never actually hit this step.
			if m.State()&sasl.Receiving == 0 || m.State()&sasl.StepMask != sasl.AuthTextSent {
				return false, nil, nil, sasl.ErrTooManySteps
			}

			return false, nil, nil, errExternalReceiving
		},
	}
}

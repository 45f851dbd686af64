// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package s2s

import "errors"

var (
	errNoAuthMethod     = errors.New("s2s: no authentication method available")
	errNoProceed        = errors.New("s2s: peer did not send <proceed/> in reply to <starttls/>")
	errBadSASLReply     = errors.New("s2s: expected a SASL success or failure element")
	errSASLFailure      = errors.New("s2s: peer rejected SASL EXTERNAL")
	errDialbackRejected = errors.New("s2s: peer rejected dialback key")
	errTLSRequired      = errors.New("s2s: TLS is mandatory, but was not established")
	errNoPeerCert       = errors.New("s2s: peer presented no certificate")
)

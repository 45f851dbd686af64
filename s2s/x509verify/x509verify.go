// Copyright 2017 Sam Whited.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.
//
// Some code in this file was adapted from the Go crypto/x509 package:
//
// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.GO file.

// Package x509verify checks a peer's X.509 certificate against an XMPP
// domain as required by RFC 6125, including the XMPP-specific SRVName and
// XmppAddr subjectAltName forms defined by RFC 6120 §13.7.1.2.
package x509verify // import "github.com/xmppd/s2sd/s2s/x509verify"

import (
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"strings"
)

var oidExtensionSubjectAltName = []int{2, 5, 29, 17}

// ErrNoMatch is returned by VerifyDomain when none of the certificate's
// identities (DNS SAN, XmppAddr SAN, SRVName SAN, or CommonName fallback)
// matches the expected domain.
var ErrNoMatch = errors.New("x509verify: certificate does not match domain")

// names holds every identity a certificate asserts.
type names struct {
	dns           []string
	srvNames      []string
	xmppAddresses []string
}

// VerifyDomain reports whether crt identifies domain per RFC 6125 §6,
// checking (in order of preference) the XmppAddr and SRVName
// subjectAltName forms XMPP servers use, falling back to ordinary dNSName
// SANs and finally the certificate's CommonName if it has no SANs at all
// (RFC 6125 §6.4.4, permitted only in that legacy case).
func VerifyDomain(crt *x509.Certificate, domain string) error {
	n, err := parseNames(crt)
	if err != nil {
		return err
	}
	domain = strings.ToLower(domain)

	for _, addr := range n.xmppAddresses {
		if matchesDomain(addr, domain) {
			return nil
		}
	}
	for _, srv := range n.srvNames {
		// SRVName is "_service.name", e.g. "_xmpp-server.example.com".
		if idx := strings.IndexByte(srv, '.'); idx >= 0 && strings.HasPrefix(srv, "_") {
			if matchesDomain(srv[idx+1:], domain) {
				return nil
			}
		}
	}
	for _, dns := range n.dns {
		if matchesDomain(dns, domain) {
			return nil
		}
	}
	if len(n.dns) == 0 && len(n.srvNames) == 0 && len(n.xmppAddresses) == 0 && crt.Subject.CommonName != "" {
		if matchesDomain(crt.Subject.CommonName, domain) {
			return nil
		}
	}
	return ErrNoMatch
}

func matchesDomain(name, domain string) bool {
	name = strings.ToLower(strings.TrimSuffix(name, "."))
	domain = strings.TrimSuffix(domain, ".")
	if name == domain {
		return true
	}
	// RFC 6125 §6.4.3: a single leftmost wildcard label may match any
	// single label in the same position.
	if strings.HasPrefix(name, "*.") {
		rest := name[2:]
		if idx := strings.IndexByte(domain, '.'); idx >= 0 {
			return rest == domain[idx+1:]
		}
	}
	return false
}

func parseNames(crt *x509.Certificate) (names, error) {
	var n names
	n.dns = crt.DNSNames
	for _, ext := range crt.Extensions {
		if !ext.Id.Equal(oidExtensionSubjectAltName) {
			continue
		}
		srvNames, xmppAddrs, err := parseSANExtension(ext.Value)
		if err != nil {
			return n, err
		}
		n.srvNames = append(n.srvNames, srvNames...)
		n.xmppAddresses = append(n.xmppAddresses, xmppAddrs...)
	}
	return n, nil
}

func parseSANExtension(value []byte) (srvNames, xmppAddresses []string, err error) {
	// RFC 5280 §4.2.1.6.
	var seq asn1.RawValue
	var rest []byte
	if rest, err = asn1.Unmarshal(value, &seq); err != nil {
		return
	} else if len(rest) != 0 {
		err = errors.New("x509verify: trailing data after X.509 extension")
		return
	}
	if !seq.IsCompound || seq.Tag != 16 || seq.Class != 0 {
		err = asn1.StructuralError{Msg: "bad SAN sequence"}
		return
	}
	return parseRest(seq.Bytes)
}

func parseRest(rest []byte) (srvNames, xmppAddresses []string, err error) {
	for len(rest) > 0 {
		var v asn1.RawValue
		rest, err = asn1.Unmarshal(rest, &v)
		if err != nil {
			return
		}
		switch v.Tag {
		case 0: // otherName
			srvNew, xmppNew, err := parseRest(v.Bytes)
			if err != nil {
				return srvNames, xmppAddresses, err
			}
			srvNames = append(srvNames, srvNew...)
			xmppAddresses = append(xmppAddresses, xmppNew...)
		case 12: // UTF8String, used by otherName's XmppAddr value
			xmppAddresses = append(xmppAddresses, string(v.Bytes))
		case 22: // IA5String, used by otherName's SRVName value
			srvNames = append(srvNames, string(v.Bytes))
		}
	}
	return
}

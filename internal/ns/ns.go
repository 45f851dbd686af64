// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package ns provides namespace constants that are used by the s2sd package
// and other internal packages.
package ns // import "github.com/xmppd/s2sd/internal/ns"

// List of commonly used namespaces.
const (
	Bind     = "urn:ietf:params:xml:ns:xmpp-bind"
	SASL     = "urn:ietf:params:xml:ns:xmpp-sasl"
	StartTLS = "urn:ietf:params:xml:ns:xmpp-tls"
	XML      = "http://www.w3.org/XML/1998/namespace"

	// Stream is the namespace of the <stream:stream> wrapper element.
	Stream = "http://etherx.jabber.org/streams"

	// Streams is the namespace of stream-level error conditions.
	Streams = "urn:ietf:params:xml:ns:xmpp-streams"

	// Server is the default content namespace for server-to-server streams.
	Server = "jabber:server"

	// Client is the default content namespace for client-to-server streams.
	Client = "jabber:client"

	// DialbackFeature is the namespace a peer advertises on the opening
	// stream header, and in <stream:features/>, to indicate that it
	// supports Server Dialback (XEP-0220).
	DialbackFeature = "urn:xmpp:features:dialback"

	// Dialback is the namespace of the <db:result/> and <db:verify/>
	// elements exchanged during a dialback negotiation.
	Dialback = "jabber:server:dialback"

	// Stanza is the namespace of stanza-level error conditions.
	Stanza = "urn:ietf:params:xml:ns:xmpp-stanzas"
)

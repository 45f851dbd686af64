// Copyright 2016 Sam Whited.
// Use of this source code is governed by the BSD 2-clause license that can be
// found in the LICENSE file.

package stream

import (
	"github.com/xmppd/s2sd/internal/ns"
)

// Namespaces used when opening or describing an XML stream.
const (
	NS       = ns.Stream
	NSServer = ns.Server
	NSClient = ns.Client
	NSXML    = ns.XML
)

// DefaultVersion is the XMPP stream version this package negotiates.
var DefaultVersion = Version{Major: 1, Minor: 0}

// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package s2s

import (
	"bufio"
	"context"
	"encoding/xml"
	"fmt"
	"io"

	"github.com/xmppd/s2sd/internal/decl"
	"github.com/xmppd/s2sd/internal/ns"
	"github.com/xmppd/s2sd/jid"
	"github.com/xmppd/s2sd/stream"
)

// streamInfo holds the attributes of a peer's opening <stream:stream> header
// that the handshake engine cares about.
type streamInfo struct {
	to      *jid.JID
	from    *jid.JID
	id      string
	version stream.Version
}

// openStream writes an outgoing server-to-server stream header to rw. If
// dialback is true, the jabber:server:dialback namespace is declared on the
// header even when the link will ultimately authenticate some other way; the
// peer only acts on it if it also supports dialback.
func openStream(rw io.Writer, from, to string, dialback bool) error {
	b := bufio.NewWriter(rw)
	_, err := fmt.Fprint(b, decl.XMLHeader)
	if err != nil {
		return err
	}
	if dialback {
		_, err = fmt.Fprintf(b, `<stream:stream xmlns:db='%s' xmlns:stream='%s' xmlns='%s' from='%s' to='%s' version='1.0'>`,
			ns.Dialback, ns.Stream, ns.Server, from, to)
	} else {
		_, err = fmt.Fprintf(b, `<stream:stream xmlns:stream='%s' xmlns='%s' from='%s' to='%s' version='1.0'>`,
			ns.Stream, ns.Server, from, to)
	}
	if err != nil {
		return err
	}
	return b.Flush()
}

// expectStream reads the peer's opening <stream:stream> header (skipping any
// leading XML declaration) and returns its attributes. A <stream:error/,
// sent instead of a stream header, is decoded and returned as the error.
func expectStream(ctx context.Context, d xml.TokenReader) (streamInfo, error) {
	d = decl.Skip(d)

	var info streamInfo
	for {
		select {
		case <-ctx.Done():
			return info, ctx.Err()
		default:
		}
		tok, err := d.Token()
		if err != nil {
			return info, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch {
			case t.Name.Local == "error" && t.Name.Space == stream.NS:
				se := stream.Error{}
				if err := xml.NewTokenDecoder(d).DecodeElement(&se, &t); err != nil {
					return info, err
				}
				return info, se
			case t.Name.Local != "stream":
				return info, stream.BadFormat
			case t.Name.Space != stream.NS:
				return info, stream.InvalidNamespace
			}
			return streamInfoFromStart(t)
		case xml.ProcInst:
			return info, stream.RestrictedXML
		case xml.EndElement:
			return info, stream.NotWellFormed
		default:
			return info, stream.RestrictedXML
		}
	}
}

func streamInfoFromStart(start xml.StartElement) (streamInfo, error) {
	var info streamInfo
	for _, a := range start.Attr {
		switch a.Name.Local {
		case "to":
			j, err := jid.Parse(a.Value)
			if err != nil {
				return info, stream.ImproperAddressing
			}
			info.to = j
		case "from":
			j, err := jid.Parse(a.Value)
			if err != nil {
				return info, stream.ImproperAddressing
			}
			info.from = j
		case "id":
			info.id = a.Value
		case "version":
			if a.Name.Space != "" {
				continue
			}
			v, err := stream.ParseVersion(a.Value)
			if err != nil {
				return info, stream.BadFormat
			}
			info.version = v
		}
	}
	if info.id == "" {
		return info, stream.BadFormat
	}
	return info, nil
}

// expectFeatures reads one complete <stream:features/> element and reports
// whether it advertises starttls, SASL EXTERNAL, and dialback.
type features struct {
	startTLS bool
	external bool
	dialback bool
}

func expectFeatures(d xml.TokenReader) (features, error) {
	var fs features
	tok, err := d.Token()
	if err != nil {
		return fs, err
	}
	start, ok := tok.(xml.StartElement)
	if !ok || start.Name.Local != "features" || start.Name.Space != stream.NS {
		return fs, stream.BadFormat
	}

	depth := 1
	for depth > 0 {
		tok, err = d.Token()
		if err != nil {
			return fs, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch {
			case t.Name.Local == "starttls" && t.Name.Space == ns.StartTLS:
				fs.startTLS = true
			case t.Name.Local == "dialback" && t.Name.Space == ns.DialbackFeature:
				fs.dialback = true
			case t.Name.Local == "mechanisms" && t.Name.Space == ns.SASL:
				var mechs struct {
					List []string `xml:"urn:ietf:params:xml:ns:xmpp-sasl mechanism"`
				}
				if err := xml.NewTokenDecoder(d).DecodeElement(&mechs, &t); err != nil {
					return fs, err
				}
				depth--
				for _, m := range mechs.List {
					if m == "EXTERNAL" {
						fs.external = true
					}
				}
			}
		case xml.EndElement:
			depth--
		}
	}
	return fs, nil
}

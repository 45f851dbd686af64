// Copyright 2016 Sam Whited.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"

	"mellium.im/xmlstream"

	"github.com/xmppd/s2sd/internal/ns"
	"github.com/xmppd/s2sd/jid"
)

// Presence is an XMPP stanza that is used as an indication that an entity is
// available for communication. It is used to set a status message, broadcast
// availability, and advertise entity capabilities. It can be directed
// (one-to-one), or used as a broadcast mechanism (one-to-many).
type Presence struct {
	XMLName xml.Name     `xml:"presence"`
	ID      string       `xml:"id,attr"`
	To      *jid.JID     `xml:"to,attr"`
	From    *jid.JID     `xml:"from,attr"`
	Lang    string       `xml:"http://www.w3.org/XML/1998/namespace lang,attr,omitempty"`
	Type    PresenceType `xml:"type,attr,omitempty"`
}

// PresenceType is the type of a presence stanza.
// It should normally be one of the constants defined in this package.
type PresenceType string

const (
	// ErrorPresence indicates that an error has occurred regarding processing of
	// a previously sent presence stanza; if the presence stanza is of type
	// "error", it MUST include an <error/> child element
	ErrorPresence PresenceType = "error"

	// ProbePresence is a request for an entity's current presence. It should
	// generally only be generated and sent by servers on behalf of a user.
	ProbePresence PresenceType = "probe"

	// SubscribePresence is sent when the sender wishes to subscribe to the
	// recipient's presence.
	SubscribePresence PresenceType = "subscribe"

	// SubscribedPresence indicates that the sender has allowed the recipient to
	// receive future presence broadcasts.
	SubscribedPresence PresenceType = "subscribed"

	// UnavailablePresence indicates that the sender is no longer available for
	// communication.
	UnavailablePresence PresenceType = "unavailable"

	// UnsubscribePresence indicates that the sender is unsubscribing from the
	// receiver's presence.
	UnsubscribePresence PresenceType = "unsubscribe"

	// UnsubscribedPresence indicates that the subscription request has been
	// denied, or a previously granted subscription has been revoked.
	UnsubscribedPresence PresenceType = "unsubscribed"
)

// StartElement returns the presence as an XML start element, keeping
// whatever namespace was set on XMLName but normalizing the local name to
// "presence".
func (p Presence) StartElement() xml.StartElement {
	attrs := make([]xml.Attr, 0, 5)
	if p.ID != "" {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "id"}, Value: p.ID})
	}
	if p.To != nil {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "to"}, Value: p.To.String()})
	}
	if p.From != nil {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "from"}, Value: p.From.String()})
	}
	if p.Lang != "" {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Space: ns.XML, Local: "lang"}, Value: p.Lang})
	}
	if p.Type != "" {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "type"}, Value: string(p.Type)})
	}
	return xml.StartElement{Name: xml.Name{Space: p.XMLName.Space, Local: "presence"}, Attr: attrs}
}

// NewPresence parses the ID, To, From, Lang, and Type attributes out of start
// and returns the resulting Presence. The local name of start is not
// validated.
func NewPresence(start xml.StartElement) (Presence, error) {
	p := Presence{XMLName: start.Name}
	for _, a := range start.Attr {
		switch {
		case a.Name.Space == ns.XML && a.Name.Local == "lang":
			p.Lang = a.Value
		case a.Name.Local == "id":
			p.ID = a.Value
		case a.Name.Local == "to":
			j, err := jid.Parse(a.Value)
			if err != nil {
				return p, err
			}
			p.To = j
		case a.Name.Local == "from":
			j, err := jid.Parse(a.Value)
			if err != nil {
				return p, err
			}
			p.From = j
		case a.Name.Local == "type":
			p.Type = PresenceType(a.Value)
		}
	}
	return p, nil
}

// Bounce wraps payload (typically a marshaled Error) in a reply presence:
// to and from are swapped and the type is forced to ErrorPresence.
func (p Presence) Bounce(payload xml.TokenReader) xml.TokenReader {
	attrs := []xml.Attr{
		{Name: xml.Name{Local: "type"}, Value: string(ErrorPresence)},
	}
	if p.From != nil {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "to"}, Value: p.From.String()})
	}
	if p.To != nil {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "from"}, Value: p.To.String()})
	}
	if p.ID != "" {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "id"}, Value: p.ID})
	}
	return xmlstream.Wrap(payload, xml.StartElement{Name: xml.Name{Local: "presence"}, Attr: attrs})
}

// Copyright 2015 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stanza

import (
	"encoding/xml"
	"errors"

	"mellium.im/xmlstream"

	"github.com/xmppd/s2sd/internal/ns"
	"github.com/xmppd/s2sd/jid"
)

// Message is an XMPP stanza that is used for push-style communication such as
// chat messages. Unlike IQ, a message does not require a response.
type Message struct {
	XMLName xml.Name    `xml:"message"`
	ID      string      `xml:"id,attr"`
	To      *jid.JID    `xml:"to,attr"`
	From    *jid.JID    `xml:"from,attr"`
	Lang    string      `xml:"http://www.w3.org/XML/1998/namespace lang,attr,omitempty"`
	Type    MessageType `xml:"type,attr,omitempty"`
}

// MessageType is the type of a message stanza.
// It should normally be one of the constants defined in this package.
type MessageType string

const (
	// NormalMessage is a standalone message sent outside the context of a
	// one-to-one conversation or groupchat.
	NormalMessage MessageType = "normal"

	// ChatMessage is sent as part of a one-to-one chat session.
	ChatMessage MessageType = "chat"

	// HeadlineMessage provides an alert, notice, or other transient
	// information, such as a news headline.
	HeadlineMessage MessageType = "headline"

	// ErrorMessage indicates that an error has occurred regarding processing
	// of a previously sent message stanza; it MUST include an <error/> child
	// element.
	ErrorMessage MessageType = "error"
)

// StartElement returns the message as an XML start element, keeping whatever
// namespace was set on XMLName but normalizing the local name to "message".
func (msg Message) StartElement() xml.StartElement {
	attrs := make([]xml.Attr, 0, 5)
	if msg.ID != "" {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "id"}, Value: msg.ID})
	}
	if msg.To != nil {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "to"}, Value: msg.To.String()})
	}
	if msg.From != nil {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "from"}, Value: msg.From.String()})
	}
	if msg.Lang != "" {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Space: ns.XML, Local: "lang"}, Value: msg.Lang})
	}
	if msg.Type != "" {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "type"}, Value: string(msg.Type)})
	}
	return xml.StartElement{Name: xml.Name{Space: msg.XMLName.Space, Local: "message"}, Attr: attrs}
}

// NewMessage parses the ID, To, From, Lang, and Type attributes out of start
// and returns the resulting Message. It returns an error if start is not a
// "message" element.
func NewMessage(start xml.StartElement) (Message, error) {
	msg := Message{XMLName: start.Name}
	if start.Name.Local != "message" {
		return msg, errors.New("stanza: start element is not a message")
	}
	for _, a := range start.Attr {
		switch {
		case a.Name.Space == ns.XML && a.Name.Local == "lang":
			msg.Lang = a.Value
		case a.Name.Local == "id":
			msg.ID = a.Value
		case a.Name.Local == "to":
			j, err := jid.Parse(a.Value)
			if err != nil {
				return msg, err
			}
			msg.To = j
		case a.Name.Local == "from":
			j, err := jid.Parse(a.Value)
			if err != nil {
				return msg, err
			}
			msg.From = j
		case a.Name.Local == "type":
			msg.Type = MessageType(a.Value)
		}
	}
	return msg, nil
}

// Bounce wraps payload (typically a marshaled Error) in a reply message: to
// and from are swapped and the type is forced to ErrorMessage.
func (msg Message) Bounce(payload xml.TokenReader) xml.TokenReader {
	attrs := []xml.Attr{
		{Name: xml.Name{Local: "type"}, Value: string(ErrorMessage)},
	}
	if msg.From != nil {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "to"}, Value: msg.From.String()})
	}
	if msg.To != nil {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "from"}, Value: msg.To.String()})
	}
	if msg.ID != "" {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "id"}, Value: msg.ID})
	}
	return xmlstream.Wrap(payload, xml.StartElement{Name: xml.Name{Local: "message"}, Attr: attrs})
}

// Copyright 2016 Sam Whited.
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

// Errors returned by the stanza package.
var (
	ErrEmptyIQType = errors.New("stanza: empty IQ type")
)

// IQ ("Information Query") is used as a general request response mechanism.
// IQ's are one-to-one, provide get and set semantics, and always require a
// response in the form of a result or an error.
type IQ struct {
	XMLName xml.Name `xml:"iq"`
	ID      string   `xml:"id,attr"`
	To      *jid.JID `xml:"to,attr"`
	From    *jid.JID `xml:"from,attr"`
	Lang    string   `xml:"http://www.w3.org/XML/1998/namespace lang,attr,omitempty"`
	Type    IQType   `xml:"type,attr"`
}

// IQType is the type of an IQ stanza.
// It should normally be one of the constants defined in this package.
type IQType string

const (
	// GetIQ is used to query another entity for information.
	GetIQ IQType = "get"

	// SetIQ is used to provide data to another entity, set new values, and
	// replace existing values.
	SetIQ IQType = "set"

	// ResultIQ is sent in response to a successful get or set IQ.
	ResultIQ IQType = "result"

	// ErrorIQ is sent to report that an error occurred during the delivery or
	// processing of a get or set IQ.
	ErrorIQ IQType = "error"
)

// MarshalXMLAttr satisfies the xml.MarshalerAttr interface for IQType.
// It returns ErrEmptyIQType when trying to marshal a IQ stanza with an empty
// type attribute.
func (t IQType) MarshalXMLAttr(name xml.Name) (attr xml.Attr, err error) {
	s := string(t)
	if s == "" {
		return attr, ErrEmptyIQType
	}
	attr.Name = name
	attr.Value = s
	return attr, nil
}

// StartElement returns the IQ as an XML start element, keeping whatever
// namespace was set on XMLName but normalizing the local name to "iq".
func (iq IQ) StartElement() xml.StartElement {
	attrs := make([]xml.Attr, 0, 5)
	if iq.ID != "" {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "id"}, Value: iq.ID})
	}
	if iq.To != nil {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "to"}, Value: iq.To.String()})
	}
	if iq.From != nil {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "from"}, Value: iq.From.String()})
	}
	if iq.Lang != "" {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Space: ns.XML, Local: "lang"}, Value: iq.Lang})
	}
	if iq.Type != "" {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "type"}, Value: string(iq.Type)})
	}
	return xml.StartElement{Name: xml.Name{Space: iq.XMLName.Space, Local: "iq"}, Attr: attrs}
}

// NewIQ parses the ID, To, From, Lang, and Type attributes out of start and
// returns the resulting IQ. The local name of start is not validated.
func NewIQ(start xml.StartElement) (IQ, error) {
	iq := IQ{XMLName: start.Name}
	for _, a := range start.Attr {
		switch {
		case a.Name.Space == ns.XML && a.Name.Local == "lang":
			iq.Lang = a.Value
		case a.Name.Local == "id":
			iq.ID = a.Value
		case a.Name.Local == "to":
			j, err := jid.Parse(a.Value)
			if err != nil {
				return iq, err
			}
			iq.To = j
		case a.Name.Local == "from":
			j, err := jid.Parse(a.Value)
			if err != nil {
				return iq, err
			}
			iq.From = j
		case a.Name.Local == "type":
			iq.Type = IQType(a.Value)
		}
	}
	return iq, nil
}

// Wrap wraps payload in the IQ's start element, always including the type
// attribute even when empty; to, from, id and xml:lang are included only
// when set.
func (iq IQ) Wrap(payload xml.TokenReader) xml.TokenReader {
	attrs := make([]xml.Attr, 0, 5)
	if iq.ID != "" {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "id"}, Value: iq.ID})
	}
	if iq.To != nil {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "to"}, Value: iq.To.String()})
	}
	if iq.From != nil {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "from"}, Value: iq.From.String()})
	}
	if iq.Lang != "" {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Space: ns.XML, Local: "lang"}, Value: iq.Lang})
	}
	attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "type"}, Value: string(iq.Type)})
	return xmlstream.Wrap(payload, xml.StartElement{Name: xml.Name{Local: "iq"}, Attr: attrs})
}

// Bounce wraps payload (typically a marshaled Error) in an error response
// IQ: to and from are swapped, the type is forced to ErrorIQ, and the ID
// is carried over unchanged.
func (iq IQ) Bounce(payload xml.TokenReader) xml.TokenReader {
	attrs := []xml.Attr{
		{Name: xml.Name{Local: "type"}, Value: string(ErrorIQ)},
	}
	if iq.From != nil {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "to"}, Value: iq.From.String()})
	}
	if iq.To != nil {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "from"}, Value: iq.To.String()})
	}
	if iq.ID != "" {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "id"}, Value: iq.ID})
	}
	return xmlstream.Wrap(payload, xml.StartElement{Name: xml.Name{Local: "iq"}, Attr: attrs})
}

// Result wraps payload in a response IQ: to and from are swapped, the type
// is forced to ResultIQ, and the ID is carried over unchanged.
func (iq IQ) Result(payload xml.TokenReader) xml.TokenReader {
	attrs := []xml.Attr{
		{Name: xml.Name{Local: "type"}, Value: string(ResultIQ)},
	}
	if iq.From != nil {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "to"}, Value: iq.From.String()})
	}
	if iq.To != nil {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "from"}, Value: iq.To.String()})
	}
	if iq.ID != "" {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "id"}, Value: iq.ID})
	}
	return xmlstream.Wrap(payload, xml.StartElement{Name: xml.Name{Local: "iq"}, Attr: attrs})
}

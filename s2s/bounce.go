// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package s2s

import (
	"context"
	"encoding/xml"

	"mellium.im/xmlstream"

	"github.com/xmppd/s2sd/jid"
	"github.com/xmppd/s2sd/stanza"
)

// PacketRouter dispatches a generated bounce back into the local routing
// path, the same way any other outbound stanza would be delivered.
type PacketRouter interface {
	RouteLocal(ctx context.Context, stanza xml.TokenReader)
}

// CanProcess implements the bounce generator's entry point (spec.md §4.G):
// given an outbound packet addressed to a domain pair that is not (and
// cannot become, via piggyback) authorized on any outgoing session, it
// synthesizes the appropriate bounce and dispatches it through router.
// CanProcess returns true if the packet is authorized to proceed as-is,
// false if it was bounced (or silently suppressed, per the no-bounce-to-
// error/response rules below).
func (e *Engine) CanProcess(ctx context.Context, pkt Packet, router PacketRouter) bool {
	pair, err := jid.NewDomainPair(pkt.From().Domain(), pkt.To().Domain())
	if err != nil {
		return false
	}

	var authorized bool
	e.locker.withRemoteLock(pair.Remote(), func() {
		if sess, ok := e.registry.GetOutgoing(pair); ok && sess != nil {
			authorized = true
			return
		}
		if sess := e.registry.SessionFor(pair.Remote()); sess != nil && sess.CanPiggyback() {
			authorized = e.piggyback(pair, sess, e.log)
		}
	})
	if authorized {
		return true
	}

	e.stats.incBounces()
	if bounce := buildBounce(pkt); bounce != nil {
		router.RouteLocal(ctx, bounce)
	}
	return false
}

// Packet is the minimal view of an outbound stanza the bounce generator
// needs: its addressing, kind, and whether it is already an error so the
// "never bounce an error" rule can be enforced.
type Packet interface {
	From() PacketAddr
	To() PacketAddr
	Kind() PacketKind
	// IsResponse reports whether this is an IQ of type result or error
	// (spec.md §4.G forbids responding to a response).
	IsResponse() bool
	// IsError reports whether the stanza already carries type="error".
	IsError() bool
	// Thread is the <thread/> content of a message stanza, or "" for
	// anything else; it is carried over onto a message bounce unchanged.
	Thread() string
	// ID, Lang and the To/From JIDs needed to build the reply stanza.
	ID() string
	Lang() string
}

// PacketAddr is the bare domain-bearing half of a JID the bounce generator
// needs.
type PacketAddr interface {
	Domain() string
	String() string
}

// PacketKind distinguishes the three stanza kinds the bounce generator
// must react to differently.
type PacketKind int

const (
	KindIQ PacketKind = iota
	KindPresence
	KindMessage
)

// buildBounce synthesizes the reply stanza for pkt per spec.md §4.G, or
// returns nil if the rules call for silent suppression.
func buildBounce(pkt Packet) xml.TokenReader {
	switch pkt.Kind() {
	case KindIQ:
		if pkt.IsResponse() {
			return nil
		}
		return iqErrorBounce(pkt)
	case KindPresence:
		if pkt.IsError() {
			return nil
		}
		return presenceErrorBounce(pkt)
	case KindMessage:
		if pkt.IsError() {
			return nil
		}
		return messageErrorBounce(pkt)
	default:
		return nil
	}
}

func remoteServerNotFound() xml.TokenReader {
	return stanza.Error{
		Type:      stanza.Cancel,
		Condition: stanza.RemoteServerNotFound,
	}.TokenReader()
}

// The stanza types built below carry the ORIGINAL To/From unchanged; each
// Bounce method swaps them when producing the reply, so here To is always
// the original recipient and From the original sender.

func iqErrorBounce(pkt Packet) xml.TokenReader {
	iq := stanza.IQ{
		ID:   pkt.ID(),
		To:   jidFrom(pkt.To()),
		From: jidFrom(pkt.From()),
		Lang: pkt.Lang(),
		Type: stanza.GetIQ,
	}
	return iq.Bounce(remoteServerNotFound())
}

func presenceErrorBounce(pkt Packet) xml.TokenReader {
	p := stanza.Presence{
		ID:   pkt.ID(),
		To:   jidFrom(pkt.To()),
		From: jidFrom(pkt.From()),
		Lang: pkt.Lang(),
	}
	return p.Bounce(remoteServerNotFound())
}

func messageErrorBounce(pkt Packet) xml.TokenReader {
	msg := stanza.Message{
		ID:   pkt.ID(),
		To:   jidFrom(pkt.To()),
		From: jidFrom(pkt.From()),
		Lang: pkt.Lang(),
	}
	payload := remoteServerNotFound()
	if thread := pkt.Thread(); thread != "" {
		payload = xmlstream.MultiReader(
			payload,
			xmlstream.Wrap(
				xmlstream.Token(xml.CharData(thread)),
				xml.StartElement{Name: xml.Name{Local: "thread"}},
			),
		)
	}
	return msg.Bounce(payload)
}

func jidFrom(a PacketAddr) *jid.JID {
	if a == nil {
		return nil
	}
	j, err := jid.Parse(a.String())
	if err != nil {
		return nil
	}
	return j
}

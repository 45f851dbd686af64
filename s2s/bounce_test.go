// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package s2s

import (
	"bytes"
	"context"
	"encoding/xml"
	"strings"
	"testing"

	"github.com/xmppd/s2sd/jid"
)

type testAddr struct{ s string }

func (a testAddr) Domain() string {
	j, err := jid.Parse(a.s)
	if err != nil {
		return a.s
	}
	return j.Domainpart()
}
func (a testAddr) String() string { return a.s }

type testPacket struct {
	from, to        testAddr
	kind            PacketKind
	isResponse      bool
	isError         bool
	thread, id, lng string
}

func (p testPacket) From() PacketAddr    { return p.from }
func (p testPacket) To() PacketAddr      { return p.to }
func (p testPacket) Kind() PacketKind    { return p.kind }
func (p testPacket) IsResponse() bool    { return p.isResponse }
func (p testPacket) IsError() bool       { return p.isError }
func (p testPacket) Thread() string      { return p.thread }
func (p testPacket) ID() string          { return p.id }
func (p testPacket) Lang() string        { return p.lng }

func renderBounce(t *testing.T, r xml.TokenReader) string {
	t.Helper()
	if r == nil {
		return ""
	}
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	for {
		tok, err := r.Token()
		if err != nil {
			break
		}
		if err := enc.EncodeToken(tok); err != nil {
			t.Fatalf("encoding token: %v", err)
		}
	}
	_ = enc.Flush()
	return buf.String()
}

func TestBuildBounceIQRequest(t *testing.T) {
	pkt := testPacket{
		from: testAddr{"user@a.example"}, to: testAddr{"svc@b.example"},
		kind: KindIQ, id: "iq1",
	}
	out := renderBounce(t, buildBounce(pkt))
	for _, want := range []string{"type=\"error\"", "remote-server-not-found", "iq1"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected bounce to contain %q, got %q", want, out)
		}
	}
}

func TestBuildBounceSuppressesIQResponse(t *testing.T) {
	pkt := testPacket{kind: KindIQ, isResponse: true}
	if out := buildBounce(pkt); out != nil {
		t.Fatal("expected no bounce for a response IQ")
	}
}

func TestBuildBounceSuppressesErrorPresence(t *testing.T) {
	pkt := testPacket{kind: KindPresence, isError: true}
	if out := buildBounce(pkt); out != nil {
		t.Fatal("expected no bounce for a presence already of type error")
	}
}

func TestBuildBounceMessageCarriesThread(t *testing.T) {
	pkt := testPacket{
		from: testAddr{"user@a.example"}, to: testAddr{"user2@b.example"},
		kind: KindMessage, thread: "thread-id-1",
	}
	out := renderBounce(t, buildBounce(pkt))
	if !strings.Contains(out, "thread-id-1") {
		t.Errorf("expected message bounce to carry the original thread, got %q", out)
	}
}

func TestCanProcessBouncesWhenNoSessionAuthorized(t *testing.T) {
	e := NewEngine(Config{LocalDomain: "a.example"}, nil, nil, nil)
	pkt := testPacket{
		from: testAddr{"user@a.example"}, to: testAddr{"user2@b.example"},
		kind: KindIQ, id: "iq2",
	}

	var routed xml.TokenReader
	router := routerFunc(func(_ context.Context, s xml.TokenReader) { routed = s })

	if e.CanProcess(context.Background(), pkt, router) {
		t.Fatal("expected CanProcess to report false with no authorized session")
	}
	if routed == nil {
		t.Fatal("expected a bounce to be routed")
	}
}

type routerFunc func(ctx context.Context, s xml.TokenReader)

func (f routerFunc) RouteLocal(ctx context.Context, s xml.TokenReader) { f(ctx, s) }

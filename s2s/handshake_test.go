// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package s2s

import (
	"context"
	"encoding/xml"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/xmppd/s2sd/jid"
	"github.com/xmppd/s2sd/s2s/dial"
)

// pipeConnector hands back one end of a net.Pipe in place of a real
// socket, so the handshake engine's wire logic can be exercised without a
// listener.
type pipeConnector struct {
	conn net.Conn
}

func (c *pipeConnector) Dial(ctx context.Context, remote string, port int) (dial.Result, error) {
	return dial.Result{Conn: c.conn, DirectTLS: false}, nil
}

// runDialbackPeer plays the receiving side of the opening handshake over
// conn: it reads the stream header, replies with its own header and a
// <stream:features/> advertising only dialback, then replies "valid" to
// whatever <db:result/> it receives.
func runDialbackPeer(t *testing.T, conn net.Conn, fromDomain string) {
	t.Helper()
	go func() {
		dec := xml.NewDecoder(conn)
		for {
			tok, err := dec.Token()
			if err != nil {
				return
			}
			if _, ok := tok.(xml.StartElement); ok {
				break
			}
		}
		if _, err := conn.Write([]byte(`<?xml version='1.0'?><stream:stream xmlns:db='jabber:server:dialback' xmlns:stream='http://etherx.jabber.org/streams' xmlns='jabber:server' from='` + fromDomain + `' to='local.example' version='1.0' id='peer-stream-1'>`)); err != nil {
			return
		}
		if _, err := conn.Write([]byte(`<stream:features><dialback xmlns='urn:xmpp:features:dialback'/></stream:features>`)); err != nil {
			return
		}
		fakePeer(t, conn)
	}()
}

func TestHandshakeDialbackSuccess(t *testing.T) {
	client, peer := net.Pipe()
	t.Cleanup(func() {
		_ = client.Close()
		_ = peer.Close()
	})
	runDialbackPeer(t, peer, "remote.example")

	e := NewEngine(Config{
		LocalDomain:       "local.example",
		DialbackEnabled:   true,
		DialbackSecret:    "s3cr3t",
		StreamOpenTimeout: time.Second,
	}, zap.NewNop(), nil, nil)
	e.connector = &pipeConnector{conn: client}

	pair, err := jid.NewDomainPair("local.example", "remote.example")
	if err != nil {
		t.Fatalf("constructing pair: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sess, err := e.handshake(ctx, pair)
	if err != nil {
		t.Fatalf("unexpected handshake error: %v", err)
	}
	if sess.Method() != AuthDialback {
		t.Fatalf("expected AuthDialback, got %v", sess.Method())
	}
	if sess.IsEncrypted() {
		t.Fatal("expected a plaintext dialback session to report unencrypted")
	}
}

// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package s2s

import (
	"testing"

	"github.com/xmppd/s2sd/jid"
)

func TestPairSetAddContains(t *testing.T) {
	var notified []jid.DomainPair
	set := newPairSet(func(p jid.DomainPair) {
		notified = append(notified, p)
	})

	pair, err := jid.NewDomainPair("a.example", "b.example")
	if err != nil {
		t.Fatalf("constructing pair: %v", err)
	}

	if set.contains(pair) {
		t.Fatal("empty set should not contain pair")
	}
	set.add(pair)
	if !set.contains(pair) {
		t.Fatal("set should contain pair after add")
	}
	if len(notified) != 1 || !notified[0].Equal(pair) {
		t.Fatalf("expected exactly one notification for pair, got %v", notified)
	}

	// Idempotent: adding again still notifies, but the set stays size 1.
	set.add(pair)
	if set.len() != 1 {
		t.Fatalf("expected len 1 after duplicate add, got %d", set.len())
	}
	if len(notified) != 2 {
		t.Fatalf("expected duplicate add to still notify, got %d notifications", len(notified))
	}
}

func TestPairSetAll(t *testing.T) {
	set := newPairSet(nil)
	p1, _ := jid.NewDomainPair("a.example", "r1.example")
	p2, _ := jid.NewDomainPair("a.example", "r2.example")
	set.add(p1)
	set.add(p2)

	all := set.all()
	if len(all) != 2 {
		t.Fatalf("expected 2 pairs, got %d", len(all))
	}
}

// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package dial discovers and connects to the XMPP server-to-server socket
// for a remote domain.
package dial // import "github.com/xmppd/s2sd/s2s/dial"

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
)

// Result is the outcome of a successful Dial: a plain TCP socket, and
// whether the caller should immediately negotiate TLS on it (implicit/
// direct TLS, signaled by an xmpps-server SRV record) before doing
// anything else with the connection.
type Result struct {
	Conn      net.Conn
	DirectTLS bool
}

// A Dialer discovers and connects to a remote XMPP server-to-server socket
// via DNS SRV records (xmpps-server for implicit TLS, xmpp-server for
// plaintext/STARTTLS), falling back to a direct connection on the
// configured port when SRV lookups are disabled or return nothing. Dial
// never performs a TLS handshake itself; it only reports whether the
// caller should, so that the handshake engine retains control over
// plaintext-detection fallback (spec.md §4.D step 2).
type Dialer struct {
	net.Dialer

	// Resolver performs the SRV lookups. A nil Resolver uses
	// net.DefaultResolver.
	Resolver *net.Resolver

	// NoLookup skips SRV discovery and connects directly to remote on
	// the requested port (or DefaultPort if zero).
	NoLookup bool

	// NoTLS disables implicit TLS discovery entirely; only xmpp-server
	// SRV records (or the direct-connect fallback) are tried.
	NoTLS bool
}

// DefaultPort is the server-to-server port assumed when SRV discovery is
// disabled or produces no usable record and no override port is given.
const DefaultPort = 5269

// Dial discovers and connects to remote. port, if non-zero, overrides
// DefaultPort for the direct-connect fallback path; it has no effect on
// ports discovered via SRV.
func (d *Dialer) Dial(ctx context.Context, remote string, port int) (Result, error) {
	if port == 0 {
		port = DefaultPort
	}

	if d.NoLookup {
		return d.direct(ctx, remote, port)
	}

	resolver := d.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	var xmppAddrs, xmppsAddrs []*net.SRV
	var wg sync.WaitGroup

	if !d.NoTLS {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, addrs, e := resolver.LookupSRV(ctx, "xmpps-server", "tcp", remote)
			if e == nil {
				xmppsAddrs = addrs
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, addrs, e := resolver.LookupSRV(ctx, "xmpp-server", "tcp", remote)
		if e == nil {
			xmppAddrs = addrs
		}
	}()
	wg.Wait()

	addrs := make([]*net.SRV, 0, len(xmppAddrs)+len(xmppsAddrs))
	addrs = append(addrs, xmppsAddrs...)
	addrs = append(addrs, xmppAddrs...)
	if len(addrs) == 0 {
		return d.direct(ctx, remote, port)
	}

	var err error
	for i, addr := range addrs {
		hostport := net.JoinHostPort(addr.Target, strconv.FormatUint(uint64(addr.Port), 10))
		conn, e := d.Dialer.DialContext(ctx, "tcp", hostport)
		if e != nil {
			err = e
			continue
		}
		return Result{Conn: conn, DirectTLS: i < len(xmppsAddrs)}, nil
	}
	return Result{}, fmt.Errorf("s2s/dial: no reachable host for %s: %w", remote, err)
}

func (d *Dialer) direct(ctx context.Context, remote string, port int) (Result, error) {
	hostport := net.JoinHostPort(remote, strconv.Itoa(port))
	conn, err := d.Dialer.DialContext(ctx, "tcp", hostport)
	if err != nil {
		return Result{}, err
	}
	return Result{Conn: conn, DirectTLS: false}, nil
}

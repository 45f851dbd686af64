// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package s2s

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"

	"github.com/xmppd/s2sd/internal/ns"
)

// DialbackKey derives the key an initiator presents in a <db:result/>
// element, as specified by XEP-0220 §3.2: an HMAC-SHA256 of "to from id"
// keyed by a secret shared only between the local server and its own
// authoritative dialback responder (never transmitted to the remote peer).
func DialbackKey(secret, to, from, streamID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s %s %s", to, from, streamID)
	return hex.EncodeToString(mac.Sum(nil))
}

// sendDialbackResult writes a <db:result/> element offering key as proof
// that from controls to, over the stream opened from 'from' to 'to'.
func sendDialbackResult(w io.Writer, to, from, key string) error {
	_, err := fmt.Fprintf(w, `<db:result xmlns:db='%s' to='%s' from='%s'>%s</db:result>`,
		ns.Dialback, to, from, xmlEscape(key))
	return err
}

// dialbackResult is the peer's verdict on a <db:result/> offer.
type dialbackResult struct {
	typ string
}

// valid reports whether the receiving server accepted the dialback key.
func (r dialbackResult) valid() bool { return r.typ == "valid" }

// expectDialbackResult reads the next <db:result/> element the peer sends
// in reply to an initiator's offer and reports its type attribute ("valid"
// or "invalid"; anything else is treated as invalid).
func expectDialbackResult(d xml.TokenReader) (dialbackResult, error) {
	for {
		tok, err := d.Token()
		if err != nil {
			return dialbackResult{}, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local != "result" || start.Name.Space != ns.Dialback {
			if err := skipElement(d, start); err != nil {
				return dialbackResult{}, err
			}
			continue
		}
		var typ string
		for _, a := range start.Attr {
			if a.Name.Local == "type" {
				typ = a.Value
			}
		}
		if err := skipElement(d, start); err != nil {
			return dialbackResult{}, err
		}
		return dialbackResult{typ: typ}, nil
	}
}

// skipElement consumes tokens until the matching end element for start has
// been read.
func skipElement(d xml.TokenReader, start xml.StartElement) error {
	depth := 1
	for depth > 0 {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		}
	}
	return nil
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

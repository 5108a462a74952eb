package websocket

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/base64"

	"github.com/searchktools/fast-bench/core/http"
)

const magicGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// AcceptKeySize is the length of a Sec-WebSocket-Accept value.
const AcceptKeySize = 28

const inlineKeySize = 64

// AcceptKey derives the Sec-WebSocket-Accept value for key into dst:
// base64(SHA-1(key + magic GUID)). Keys up to 64 bytes do not allocate.
func AcceptKey(dst *[AcceptKeySize]byte, key []byte) {
	var sum [sha1.Size]byte
	if len(key) <= inlineKeySize {
		var scratch [inlineKeySize + len(magicGUID)]byte
		n := copy(scratch[:], key)
		n += copy(scratch[n:], magicGUID)
		sum = sha1.Sum(scratch[:n])
	} else {
		h := sha1.New()
		h.Write(key)
		h.Write([]byte(magicGUID))
		h.Sum(sum[:0])
	}
	base64.StdEncoding.Encode(dst[:], sum[:])
}

var headerKey = []byte("Sec-WebSocket-Key")

// KeyBuffer captures the Sec-WebSocket-Key header of the current request.
// The header name is matched case-sensitively.
type KeyBuffer struct {
	inline [inlineKeySize]byte
	heap   []byte
	key    []byte
}

// Capture stores value if name is Sec-WebSocket-Key and reports whether it did.
func (k *KeyBuffer) Capture(name, value []byte) bool {
	if !bytes.Equal(name, headerKey) {
		return false
	}
	if len(value) <= len(k.inline) {
		k.key = k.inline[:copy(k.inline[:], value)]
	} else {
		k.heap = append(k.heap[:0], value...)
		k.key = k.heap
	}
	return true
}

// Key returns the captured key, or nil.
func (k *KeyBuffer) Key() []byte { return k.key }

// Reset forgets the captured key.
func (k *KeyBuffer) Reset() { k.key = nil }

var (
	switchingHead = []byte("HTTP/1.1 101 Switching Protocols\r\n" +
		"Connection: Upgrade\r\n" +
		"Upgrade: websocket\r\n" +
		"Sec-WebSocket-Accept: ")
	crlfcrlf = []byte("\r\n\r\n")
)

// WriteHandshake writes the 101 response carrying accept.
func WriteHandshake(w *http.BufferWriter, accept []byte) {
	w.Write(switchingHead)
	w.Write(accept)
	w.Write(crlfcrlf)
}

// Upgrader switches connections to the WebSocket protocol and serves them
// with the echo frame loop.
type Upgrader struct {
	Options EchoOptions
}

// Upgrade answers the current request on c. Without a key it writes a 400
// response and the HTTP cycle continues. Otherwise it flushes the 101
// response, takes over the stream and returns when the frame loop ends;
// the connection never goes back to HTTP.
func (u *Upgrader) Upgrade(ctx context.Context, c *http.Conn, key []byte) error {
	if len(key) == 0 {
		http.WriteResponse(c.Response(), c.Dates(), http.StatusBadRequest, http.MediaNone, nil, c.KeepAlive())
		return nil
	}
	if !c.Hijackable() {
		return http.ErrHijackUnsupported
	}

	var accept [AcceptKeySize]byte
	AcceptKey(&accept, key)
	WriteHandshake(c.Response(), accept[:])
	if err := c.Flush(); err != nil {
		return err
	}

	rw, err := c.Hijack()
	if err != nil {
		return err
	}
	return Echo(ctx, rw, u.Options)
}

// Package wire implements the status-ping application protocol: the
// outbound handshake payload, the inbound length-prefix varint, and the
// JSON status document extraction. See https://wiki.vg/Server_List_Ping for
// the protocol this mirrors.
package wire

import (
	"bytes"
	"fmt"
)

// MaxResponseSize rejects suspiciously long responses. A length prefix
// greater than this retires the connection without allocating a buffer.
const MaxResponseSize = 65536

// MaxVarintLen is the maximum number of bytes a varint length prefix may
// occupy before it is considered malformed.
const MaxVarintLen = 5

// HandshakePayload is the fixed 24-byte blob sent on every outbound
// connection: a handshake packet (protocol version -1, hostname
// "example.com", port 25565, next_state=1) immediately followed by a
// status-request packet. It is a compile-time constant; there is no
// per-target customization.
var HandshakePayload = []byte{
	0x15,                                                             // packet length
	0x00,                                                             // packet ID (0 = handshake)
	0xff, 0xff, 0xff, 0xff, 0x0f,                                     // protocol version (-1 = ping)
	0x0b, 0x65, 0x78, 0x61, 0x6d, 0x70, 0x6c, 0x65, 0x2e, 0x63, 0x6f, 0x6d, // "example.com"
	0x63, 0xdd, // port 25565
	0x01, // next_state = 1 (status)

	0x01, // packet length
	0x00, // packet ID (0 = status request)
}

// ErrVarintOverlong is returned when a varint's continuation bits extend
// past the 5th byte.
var ErrVarintOverlong = fmt.Errorf("varint exceeds %d bytes", MaxVarintLen)

// DecodeVarint decodes a little-endian base-128 unsigned integer with a
// high continuation bit, from the start of buf. It returns the decoded
// value and the number of bytes consumed. ok is false if buf does not yet
// contain a terminated varint (more bytes are needed); err is non-nil if
// the varint is malformed (overlong).
func DecodeVarint(buf []byte) (value uint64, n int, ok bool, err error) {
	for i := 0; i < len(buf); i++ {
		b := buf[i]
		value |= uint64(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			return value, i + 1, true, nil
		}
		if i+1 >= MaxVarintLen {
			return 0, 0, false, ErrVarintOverlong
		}
	}
	return 0, 0, false, nil
}

// EncodeVarint appends the varint encoding of v to buf and returns the
// result, for use by tests.
func EncodeVarint(buf []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			buf = append(buf, b|0x80)
		} else {
			buf = append(buf, b)
			return buf
		}
	}
}

// ExtractStatusDocument locates the first '{' byte in body and returns
// everything from there to the end of the buffer, which is the opaque JSON
// status document per the protocol. ok is false if no '{' byte is present.
func ExtractStatusDocument(body []byte) (doc []byte, ok bool) {
	i := bytes.IndexByte(body, '{')
	if i < 0 {
		return nil, false
	}
	return body[i:], true
}

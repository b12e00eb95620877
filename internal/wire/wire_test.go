package wire

import "testing"

func TestVarintRoundTrip(t *testing.T) {
	for _, n := range []uint64{0, 1, 127, 128, 16383, 16384, 2097151, 268435455, 1<<32 - 1} {
		buf := EncodeVarint(nil, n)
		got, consumed, ok, err := DecodeVarint(buf)
		if err != nil {
			t.Fatalf("n=%d: unexpected error: %v", n, err)
		}
		if !ok {
			t.Fatalf("n=%d: decode not ok", n)
		}
		if got != n {
			t.Fatalf("n=%d: got %d", n, got)
		}
		if consumed != len(buf) {
			t.Fatalf("n=%d: consumed %d, want %d", n, consumed, len(buf))
		}
	}
}

func TestVarintOverlongRejected(t *testing.T) {
	// Six bytes, all but the last with the continuation bit set.
	buf := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x00}
	_, _, ok, err := DecodeVarint(buf)
	if ok {
		t.Fatal("expected overlong varint to be rejected")
	}
	if err != ErrVarintOverlong {
		t.Fatalf("got err %v, want ErrVarintOverlong", err)
	}
}

func TestVarintIncompleteNeedsMoreBytes(t *testing.T) {
	buf := []byte{0xFF, 0xFF}
	_, _, ok, err := DecodeVarint(buf)
	if ok || err != nil {
		t.Fatalf("expected (false, nil) for an incomplete varint, got ok=%v err=%v", ok, err)
	}
}

func TestExtractStatusDocument(t *testing.T) {
	doc, ok := ExtractStatusDocument([]byte("garbage{\"a\":1}"))
	if !ok || string(doc) != `{"a":1}` {
		t.Fatalf("got doc=%q ok=%v", doc, ok)
	}

	if _, ok := ExtractStatusDocument([]byte("no braces here")); ok {
		t.Fatal("expected no document to be found")
	}
}

func TestHandshakePayloadLength(t *testing.T) {
	if len(HandshakePayload) != 24 {
		t.Fatalf("got %d bytes, want 24", len(HandshakePayload))
	}
}

package btree

import "testing"

func TestVarintRoundTrip(t *testing.T) {
	values := []uint32{0, 1, 127, 128, 129, 16383, 16384, 65535, 1 << 20, 1<<32 - 1}
	buf := make([]byte, 5)

	for _, v := range values {
		n := putVarint(buf, v)
		if n != varintLen(v) {
			t.Fatalf("value %d: putVarint wrote %d bytes, varintLen said %d", v, n, varintLen(v))
		}
		got, read := getVarint(buf[:n])
		if read != n {
			t.Fatalf("value %d: getVarint consumed %d bytes, expected %d", v, read, n)
		}
		if got != v {
			t.Fatalf("value %d: round-tripped to %d", v, got)
		}
	}
}

func TestVarintLenMatchesEncodingSizeAtBoundaries(t *testing.T) {
	cases := []struct {
		v    uint32
		want int
	}{
		{0, 1},
		{127, 1},
		{128, 2},
		{16383, 2},
		{16384, 3},
		{1<<21 - 1, 3},
		{1 << 21, 4},
	}
	for _, c := range cases {
		if got := varintLen(c.v); got != c.want {
			t.Fatalf("varintLen(%d) = %d, want %d", c.v, got, c.want)
		}
	}
}

func TestGetVarintTruncated(t *testing.T) {
	// A single continuation byte with no terminator is truncated.
	if _, n := getVarint([]byte{0x80}); n != 0 {
		t.Fatalf("expected n=0 for a truncated varint, got %d", n)
	}
	if _, n := getVarint(nil); n != 0 {
		t.Fatalf("expected n=0 for an empty buffer, got %d", n)
	}
}

func TestGetVarintOverflowsPastFiveBytes(t *testing.T) {
	buf := []byte{0x80, 0x80, 0x80, 0x80, 0x80}
	if _, n := getVarint(buf); n != 0 {
		t.Fatalf("expected a 5-continuation-byte sequence to report overflow (n=0), got %d", n)
	}
}

package tcpreorder

import (
	"testing"

	"github.com/qingchen1984/peafowl/mempool"
)

// TestOutOfOrderDelivery exercises the second end-to-end scenario: segments
// [0,100), [200,300), [100,200) delivered in that order produce a single
// contiguous [0,300) delivery once the gap closes.
func TestOutOfOrderDelivery(t *testing.T) {
	s := New(nil)

	seg0 := make([]byte, 100)
	for i := range seg0 {
		seg0[i] = byte(i)
	}
	seg200 := make([]byte, 100)
	for i := range seg200 {
		seg200[i] = byte(200 + i)
	}
	seg100 := make([]byte, 100)
	for i := range seg100 {
		seg100[i] = byte(100 + i)
	}

	r1 := s.Process(DirLowToHigh, 0, seg0, Flags{})
	if r1.Status != Delivered {
		t.Fatalf("expected first in-order segment delivered, got %v", r1.Status)
	}
	if r1.Delivered.Len() != 100 {
		t.Fatalf("expected 100 bytes delivered, got %d", r1.Delivered.Len())
	}

	r2 := s.Process(DirLowToHigh, 200, seg200, Flags{})
	if r2.Status != OutOfOrder {
		t.Fatalf("expected TCP_OUT_OF_ORDER for the gapped segment, got %v", r2.Status)
	}

	r3 := s.Process(DirLowToHigh, 100, seg100, Flags{})
	if r3.Status != Delivered {
		t.Fatalf("expected the gap-filling segment to trigger delivery, got %v", r3.Status)
	}
	if r3.Delivered.Len() != 200 {
		t.Fatalf("expected the drained buffer to deliver [100,300) = 200 bytes, got %d", r3.Delivered.Len())
	}
	for i := int64(0); i < 200; i++ {
		want := byte(100 + i)
		if r3.Delivered.GetByte(i) != want {
			t.Fatalf("byte %d: want %d got %d", i, want, r3.Delivered.GetByte(i))
		}
	}
}

// TestOutOfOrderDeliveryWithPool exercises the same gap-then-fill scenario
// as TestOutOfOrderDelivery, but with a small per-flow buffer pool
// configured, so the out-of-order segment is copied into pool-backed
// storage (segment.buf) rather than a plain heap copy, and released back
// to the pool once the gap closes.
func TestOutOfOrderDeliveryWithPool(t *testing.T) {
	pool, err := mempool.MakeBufferPool(1<<16, 4096)
	if err != nil {
		t.Fatalf("MakeBufferPool: %v", err)
	}
	s := New(pool)

	seg0 := make([]byte, 100)
	seg200 := make([]byte, 100)
	for i := range seg200 {
		seg200[i] = byte(200 + i)
	}
	seg100 := make([]byte, 100)
	for i := range seg100 {
		seg100[i] = byte(100 + i)
	}

	s.Process(DirLowToHigh, 0, seg0, Flags{})
	r2 := s.Process(DirLowToHigh, 200, seg200, Flags{})
	if r2.Status != OutOfOrder {
		t.Fatalf("expected the gapped segment buffered out of order, got %v", r2.Status)
	}
	if s.dirs[DirLowToHigh].buffer == nil || s.dirs[DirLowToHigh].buffer.buf == nil {
		t.Fatalf("expected the buffered segment to be pool-backed")
	}

	r3 := s.Process(DirLowToHigh, 100, seg100, Flags{})
	if r3.Status != Delivered || r3.Delivered.Len() != 200 {
		t.Fatalf("expected 200 bytes delivered once the gap closed, got status=%v len=%d", r3.Status, r3.Delivered.Len())
	}
	for i := int64(0); i < 100; i++ {
		if want := byte(100 + i); r3.Delivered.GetByte(i) != want {
			t.Fatalf("byte %d: want %d got %d", i, want, r3.Delivered.GetByte(i))
		}
	}
	if s.dirs[DirLowToHigh].buffer != nil {
		t.Fatalf("expected the drained segment's buffer to be released")
	}
}

func TestIdempotentDuplicate(t *testing.T) {
	s := New(nil)
	seg := make([]byte, 50)

	r1 := s.Process(DirLowToHigh, 1000, seg, Flags{})
	if r1.Status != Delivered {
		t.Fatalf("expected first segment delivered, got %v", r1.Status)
	}

	r2 := s.Process(DirLowToHigh, 1000, seg, Flags{})
	if r2.Status != Duplicate {
		t.Fatalf("expected replay to be flagged duplicate, got %v", r2.Status)
	}
	if s.dirs[DirLowToHigh].expectedSeq != 1050 {
		t.Fatalf("replay must not advance state, expectedSeq = %d", s.dirs[DirLowToHigh].expectedSeq)
	}
}

func TestSequenceWraparound(t *testing.T) {
	s := New(nil)
	base := uint32(1<<32 - 50)

	seg1 := make([]byte, 50)
	r1 := s.Process(DirLowToHigh, base, seg1, Flags{})
	if r1.Status != Delivered {
		t.Fatalf("expected delivery before wraparound, got %v", r1.Status)
	}

	// expectedSeq is now 0 (wrapped). The next segment starts at seq 0.
	seg2 := make([]byte, 50)
	r2 := s.Process(DirLowToHigh, 0, seg2, Flags{})
	if r2.Status != Delivered {
		t.Fatalf("expected delivery across the wraparound boundary, got %v", r2.Status)
	}
}

func TestRSTTerminatesConnection(t *testing.T) {
	s := New(nil)
	r := s.Process(DirLowToHigh, 10, nil, Flags{RST: true})
	if r.Status != Terminated {
		t.Fatalf("expected Terminated on RST, got %v", r.Status)
	}
	if s.ConnState() != StateClosed {
		t.Fatalf("expected CLOSED connection state, got %v", s.ConnState())
	}
}

func TestBothFinsTerminate(t *testing.T) {
	s := New(nil)
	s.Process(DirLowToHigh, 0, nil, Flags{FIN: true})
	if s.ConnState() != StateFinWait {
		t.Fatalf("expected FIN_WAIT after first FIN, got %v", s.ConnState())
	}
	r := s.Process(DirHighToLow, 0, nil, Flags{FIN: true})
	if r.Status != Terminated {
		t.Fatalf("expected Terminated once both sides FIN, got %v", r.Status)
	}
}

func TestHandshakeReachesEstablished(t *testing.T) {
	s := New(nil)
	s.Process(DirLowToHigh, 100, nil, Flags{SYN: true})
	if s.ConnState() != StateSynSent {
		t.Fatalf("expected SYN_SENT, got %v", s.ConnState())
	}
	s.Process(DirHighToLow, 500, nil, Flags{SYN: true, ACK: true})
	if s.ConnState() != StateSynAcked {
		t.Fatalf("expected SYN_ACKED, got %v", s.ConnState())
	}
	s.Process(DirLowToHigh, 101, nil, Flags{ACK: true})
	if s.ConnState() != StateEstablished {
		t.Fatalf("expected ESTABLISHED, got %v", s.ConnState())
	}
}

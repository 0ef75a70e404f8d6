package crypto

import "testing"

func TestBufferPoolTakeReturn(t *testing.T) {
	p := NewBufferPool(64)

	buf := p.Take()
	if len(buf) != 0 {
		t.Fatalf("Take() length = %d, want 0", len(buf))
	}
	if cap(buf) < 64 {
		t.Fatalf("Take() cap = %d, want >= 64", cap(buf))
	}

	buf = append(buf, []byte("hello")...)
	p.Return(buf)

	hits, misses := p.Metrics()
	if hits+misses == 0 {
		t.Fatalf("expected at least one recorded take")
	}
}

func TestBufferPoolReuseIsZeroed(t *testing.T) {
	p := NewBufferPool(32)

	buf := p.Take()
	buf = append(buf, []byte("secret-plaintext")...)
	p.Return(buf)

	reused := p.Take()
	full := reused[:cap(reused)]
	for i, b := range full {
		if b != 0 {
			t.Fatalf("reused buffer not zeroized at index %d", i)
		}
	}
}

func TestBufferPoolDropsUndersizedReturn(t *testing.T) {
	p := NewBufferPool(128)

	small := make([]byte, 0, 16)
	p.Return(small) // must not panic, must not be pooled

	buf := p.Take()
	if cap(buf) < 128 {
		t.Fatalf("Take() after undersized return cap = %d, want >= 128", cap(buf))
	}
}

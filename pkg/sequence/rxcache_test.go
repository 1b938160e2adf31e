package sequence

import (
	"errors"
	"sync"
	"testing"

	"github.com/backkem/blemesh/pkg/message"
)

func TestRxCacheStrictlyIncreasing(t *testing.T) {
	c := NewRxCache()
	src := message.Address(0x0002)

	steps := []struct {
		seq    uint32
		iv     uint32
		wantOK bool
	}{
		{10, 0, true},
		{10, 0, false},
		{9, 0, false},
		{11, 0, true},
		{1, 1, true},
		{5, 0, false},
		{2, 1, true},
	}

	for i, s := range steps {
		err := c.CheckAndAccept(src, s.seq, s.iv)
		if (err == nil) != s.wantOK {
			t.Errorf("step %d CheckAndAccept(%d, %d) error = %v, wantOK %v", i, s.seq, s.iv, err, s.wantOK)
		}
		if err != nil && !errors.Is(err, ErrReplay) {
			t.Errorf("step %d error = %v, want ErrReplay", i, err)
		}
	}
}

func TestRxCacheIndependentSources(t *testing.T) {
	c := NewRxCache()

	if err := c.CheckAndAccept(0x0002, 100, 0); err != nil {
		t.Fatal(err)
	}
	if err := c.CheckAndAccept(0x0003, 1, 0); err != nil {
		t.Errorf("other source rejected: %v", err)
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestRxCacheClear(t *testing.T) {
	c := NewRxCache()
	c.CheckAndAccept(0x0002, 100, 0)
	c.Clear()

	if c.Len() != 0 {
		t.Errorf("Len() = %d after Clear, want 0", c.Len())
	}
	if err := c.CheckAndAccept(0x0002, 1, 0); err != nil {
		t.Errorf("after Clear: %v", err)
	}
}

func TestRxCacheConcurrent(t *testing.T) {
	c := NewRxCache()
	var wg sync.WaitGroup
	for src := 1; src <= 8; src++ {
		wg.Add(1)
		go func(src message.Address) {
			defer wg.Done()
			for seq := uint32(0); seq < 100; seq++ {
				if err := c.CheckAndAccept(src, seq, 0); err != nil {
					t.Errorf("src %v seq %d: %v", src, seq, err)
				}
			}
		}(message.Address(src))
	}
	wg.Wait()
}

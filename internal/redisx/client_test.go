package redisx

import (
	"testing"
	"time"
)

func TestNewAppliesTimeouts(t *testing.T) {
	c := New("localhost:6379")
	defer c.Close()

	opt := c.Options()
	if opt.ReadTimeout != 2*time.Second {
		t.Errorf("ReadTimeout = %v, want 2s", opt.ReadTimeout)
	}
	if opt.WriteTimeout != 2*time.Second {
		t.Errorf("WriteTimeout = %v, want 2s", opt.WriteTimeout)
	}
}

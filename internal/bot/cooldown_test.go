package bot

import (
	"testing"
	"time"
)

func TestCooldownStoreAllow(t *testing.T) {
	c := NewCooldownStore(100 * time.Millisecond)

	if !c.Allow("pos-1") {
		t.Fatal("first emission must pass")
	}
	if c.Allow("pos-1") {
		t.Fatal("second emission inside window must be blocked")
	}
	// независимость ключей
	if !c.Allow("pos-2") {
		t.Fatal("different key must not share cooldown")
	}

	time.Sleep(120 * time.Millisecond)
	if !c.Allow("pos-1") {
		t.Fatal("emission after window must pass")
	}
}

func TestCooldownStoreRemove(t *testing.T) {
	c := NewCooldownStore(time.Hour)

	c.Allow("pos-1")
	if c.Allow("pos-1") {
		t.Fatal("must be blocked inside window")
	}

	c.Remove("pos-1")
	if !c.Allow("pos-1") {
		t.Fatal("Remove must reset the cooldown")
	}
}

func TestCooldownStoreReset(t *testing.T) {
	c := NewCooldownStore(time.Hour)
	c.Allow("a")
	c.Allow("b")
	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}

	c.Reset()
	if c.Len() != 0 {
		t.Errorf("Len = %d, want 0 after reset", c.Len())
	}
	if !c.Allow("a") {
		t.Error("reset must clear all cooldowns")
	}
}

func TestDedupSetSeen(t *testing.T) {
	d := NewDedupSet(100 * time.Millisecond)

	if d.Seen("trigger-1") {
		t.Fatal("first occurrence is not a duplicate")
	}
	if !d.Seen("trigger-1") {
		t.Fatal("second occurrence inside window is a duplicate")
	}
	if d.Seen("trigger-2") {
		t.Fatal("other key must not be marked duplicate")
	}

	time.Sleep(120 * time.Millisecond)
	// окно истекло, запись выметена и ключ снова первый
	if d.Seen("trigger-1") {
		t.Fatal("expired entry must not count as duplicate")
	}
}

func TestDedupSetSweep(t *testing.T) {
	d := NewDedupSet(50 * time.Millisecond)

	d.Seen("a")
	d.Seen("b")
	if d.Len() != 2 {
		t.Fatalf("Len = %d, want 2", d.Len())
	}

	time.Sleep(70 * time.Millisecond)
	// Seen по новому ключу попутно выметает истёкшие записи
	d.Seen("c")
	if d.Len() != 1 {
		t.Errorf("Len = %d, want 1 after sweep", d.Len())
	}
}

func TestDedupSetClear(t *testing.T) {
	d := NewDedupSet(time.Hour)
	d.Seen("a")
	d.Clear()
	if d.Len() != 0 {
		t.Errorf("Len = %d, want 0 after clear", d.Len())
	}
	if d.Seen("a") {
		t.Error("clear must forget all entries")
	}
}

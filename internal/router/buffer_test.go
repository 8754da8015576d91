package router

import (
	"sync"
	"testing"
)

func TestHistory_PushSnapshot(t *testing.T) {
	h := NewHistory[int](5)

	for i := 1; i <= 3; i++ {
		h.Push(i)
	}

	got := h.Snapshot()
	want := []int{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Snapshot()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestHistory_EvictsOldest(t *testing.T) {
	h := NewHistory[int](3)

	for i := 1; i <= 7; i++ {
		h.Push(i)
	}

	got := h.Snapshot()
	want := []int{5, 6, 7}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Snapshot()[%d] = %d, want %d", i, got[i], want[i])
		}
	}

	stats := h.Stats()
	if stats.Count != 3 {
		t.Errorf("Count = %d, want 3", stats.Count)
	}
	if stats.TotalReceived != 7 {
		t.Errorf("TotalReceived = %d, want 7", stats.TotalReceived)
	}
	if stats.Dropped != 4 {
		t.Errorf("Dropped = %d, want 4", stats.Dropped)
	}
}

func TestHistory_WrapAroundSnapshot(t *testing.T) {
	h := NewHistory[string](4)

	for _, s := range []string{"a", "b", "c", "d", "e", "f"} {
		h.Push(s)
	}

	got := h.Snapshot()
	want := []string{"c", "d", "e", "f"}
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4", len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Snapshot()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	// Snapshot is a copy.
	got[0] = "mutated"
	if h.Snapshot()[0] != "c" {
		t.Error("Snapshot should not alias the ring")
	}
}

func TestHistory_Clear(t *testing.T) {
	h := NewHistory[int](2)
	h.Push(1)
	h.Push(2)
	h.Push(3)
	h.Clear()

	if h.Len() != 0 {
		t.Errorf("Len() = %d, want 0", h.Len())
	}
	if len(h.Snapshot()) != 0 {
		t.Error("Snapshot should be empty after Clear")
	}

	h.Push(9)
	if got := h.Snapshot(); len(got) != 1 || got[0] != 9 {
		t.Errorf("Snapshot() = %v, want [9]", got)
	}
	if h.Stats().TotalReceived != 4 {
		t.Errorf("TotalReceived = %d, want 4", h.Stats().TotalReceived)
	}
}

func TestNewHistory_MinCapacity(t *testing.T) {
	h := NewHistory[int](0)
	if h.Cap() != 1 {
		t.Errorf("Cap() = %d, want 1", h.Cap())
	}
	h.Push(1)
	h.Push(2)
	if got := h.Snapshot(); len(got) != 1 || got[0] != 2 {
		t.Errorf("Snapshot() = %v, want [2]", got)
	}
}

func TestHistory_ConcurrentPush(t *testing.T) {
	h := NewHistory[int](10)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				h.Push(i)
				h.Snapshot()
			}
		}()
	}
	wg.Wait()

	stats := h.Stats()
	if stats.TotalReceived != 800 {
		t.Errorf("TotalReceived = %d, want 800", stats.TotalReceived)
	}
	if stats.Count != 10 {
		t.Errorf("Count = %d, want 10", stats.Count)
	}
	if stats.Dropped != 790 {
		t.Errorf("Dropped = %d, want 790", stats.Dropped)
	}
}

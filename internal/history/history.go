// Package history keeps a bounded, in-memory log of recent predictions.
package history

import (
	"sync"

	"github.com/bbernhard/cifar-playground/internal/datastructures"
)

const DefaultCapacity = 100

// Buffer is a fixed-capacity FIFO of prediction entries. Appending to a full
// buffer evicts the oldest entry. All methods are safe for concurrent use.
type Buffer struct {
	mu      sync.Mutex
	entries []datastructures.HistoryEntry
	start   int // index of the oldest entry
	size    int
}

func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{entries: make([]datastructures.HistoryEntry, capacity)}
}

func (b *Buffer) Append(e datastructures.HistoryEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := len(b.entries)
	if b.size < capacity {
		b.entries[(b.start+b.size)%capacity] = e
		b.size++
		return
	}
	// full: overwrite the oldest slot and advance
	b.entries[b.start] = e
	b.start = (b.start + 1) % capacity
}

// Recent returns up to n of the newest entries, oldest first.
func (b *Buffer) Recent(n int) []datastructures.HistoryEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n > b.size {
		n = b.size
	}
	if n < 0 {
		n = 0
	}
	out := make([]datastructures.HistoryEntry, n)
	capacity := len(b.entries)
	first := b.size - n
	for i := 0; i < n; i++ {
		out[i] = b.entries[(b.start+first+i)%capacity]
	}
	return out
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

func (b *Buffer) Capacity() int {
	return len(b.entries)
}

func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.entries {
		b.entries[i] = datastructures.HistoryEntry{}
	}
	b.start = 0
	b.size = 0
}

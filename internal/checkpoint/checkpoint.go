// Package checkpoint implements a bounded-memory replay detector keyed by
// message signature.
//
// A signature is any fixed-length fingerprint the messaging layer computes
// over a message's authentication tag. The first observation of a signature
// is not a duplicate; any further observation within the retention window is.
package checkpoint

import (
	"sync"
	"time"
)

// Checkpoint tracks recently seen message signatures.
//
// Flow:
//  1. Inbound message arrives, carrying a signature
//  2. Call Seen(signature)
//  3. If true, the message is a replay - drop it
//
// Checkpoint is safe for concurrent use.
type Checkpoint struct {
	mu   sync.Mutex
	seen map[string]*sigEntry

	window     time.Duration // retention window for signatures
	maxEntries int           // hard cap on remembered signatures

	done chan struct{}
}

type sigEntry struct {
	lastSeen time.Time
	hits     int
}

// New creates a checkpoint with the given retention window and capacity.
// A background loop purges expired signatures; call Close to stop it.
func New(window time.Duration, maxEntries int, cleanupInterval time.Duration) *Checkpoint {
	c := &Checkpoint{
		seen:       make(map[string]*sigEntry),
		window:     window,
		maxEntries: maxEntries,
		done:       make(chan struct{}),
	}

	go c.cleanupLoop(cleanupInterval)

	return c
}

// Seen reports whether the signature was already observed within the
// retention window, and records this observation.
func (c *Checkpoint) Seen(signature string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()

	entry, ok := c.seen[signature]
	if ok && now.Sub(entry.lastSeen) <= c.window {
		entry.lastSeen = now
		entry.hits++
		return true
	}

	c.seen[signature] = &sigEntry{lastSeen: now, hits: 1}

	if len(c.seen) > c.maxEntries {
		c.evict(now)
	}

	return false
}

// Len returns the number of remembered signatures.
func (c *Checkpoint) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// Close stops the background cleanup loop.
func (c *Checkpoint) Close() {
	close(c.done)
}

// evict purges expired entries, then drops the oldest remaining entries
// until the map is back under capacity. Caller must hold the lock.
func (c *Checkpoint) evict(now time.Time) {
	for sig, entry := range c.seen {
		if now.Sub(entry.lastSeen) > c.window {
			delete(c.seen, sig)
		}
	}

	for len(c.seen) > c.maxEntries {
		var oldestSig string
		var oldest time.Time
		for sig, entry := range c.seen {
			if oldestSig == "" || entry.lastSeen.Before(oldest) {
				oldestSig = sig
				oldest = entry.lastSeen
			}
		}
		delete(c.seen, oldestSig)
	}
}

func (c *Checkpoint) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.done:
			return
		}
	}
}

func (c *Checkpoint) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for sig, entry := range c.seen {
		if now.Sub(entry.lastSeen) > c.window {
			delete(c.seen, sig)
		}
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"sync"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
)

// =============================================================================
// Event Broker
// =============================================================================

// eventBufferSize bounds each subscriber channel. Slow subscribers drop
// intermediate snapshots rather than stalling the run.
const eventBufferSize = 16

// Broker fans run state transitions out to live watchers.
//
// Thread Safety: Safe for concurrent use.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[chan datatypes.RunSnapshot]struct{}
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan datatypes.RunSnapshot]struct{})}
}

// Subscribe registers a watcher for one run's transitions.
//
// Outputs:
//
//	<-chan datatypes.RunSnapshot - Buffered transition stream.
//	func()                       - Unsubscribe; closes the channel.
func (b *Broker) Subscribe(runID string) (<-chan datatypes.RunSnapshot, func()) {
	ch := make(chan datatypes.RunSnapshot, eventBufferSize)

	b.mu.Lock()
	if b.subs[runID] == nil {
		b.subs[runID] = make(map[chan datatypes.RunSnapshot]struct{})
	}
	b.subs[runID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[runID], ch)
			if len(b.subs[runID]) == 0 {
				delete(b.subs, runID)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers a snapshot to every watcher of the run. Full
// subscriber buffers are skipped.
func (b *Broker) Publish(snapshot datatypes.RunSnapshot) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[snapshot.RunID] {
		select {
		case ch <- snapshot:
		default:
		}
	}
}

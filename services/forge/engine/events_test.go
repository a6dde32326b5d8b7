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
	"testing"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker_DeliversToSubscriber(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe("run-1")
	defer cancel()

	b.Publish(datatypes.RunSnapshot{RunID: "run-1", State: datatypes.RunStateRunning, Iteration: 2})

	snap := <-ch
	assert.Equal(t, datatypes.RunStateRunning, snap.State)
	assert.Equal(t, 2, snap.Iteration)
}

func TestBroker_ScopedByRunID(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe("run-1")
	defer cancel()

	b.Publish(datatypes.RunSnapshot{RunID: "run-2", State: datatypes.RunStateRunning})

	select {
	case snap := <-ch:
		t.Fatalf("unexpected delivery: %+v", snap)
	default:
	}
}

func TestBroker_UnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe("run-1")
	cancel()

	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe must not panic.
	b.Publish(datatypes.RunSnapshot{RunID: "run-1"})
}

func TestBroker_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe("run-1")
	defer cancel()

	for i := 0; i < eventBufferSize*2; i++ {
		b.Publish(datatypes.RunSnapshot{RunID: "run-1", Iteration: i})
	}

	// The buffer holds the first eventBufferSize snapshots; the rest
	// were dropped rather than stalling the run.
	require.Len(t, ch, eventBufferSize)
}

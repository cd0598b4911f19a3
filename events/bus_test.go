// Package events tests for the in-memory event bus.
package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// BUS TESTS
// =============================================================================

func TestPublishFansOutByKind(t *testing.T) {
	// Test that an event reaches every subscriber of its kind and none of
	// another kind.
	bus := NewBus()

	var mu sync.Mutex
	var started, finished []string

	bus.Subscribe(KindWorkflowStarted, func(ctx context.Context, event Event) {
		mu.Lock()
		defer mu.Unlock()
		started = append(started, event.(WorkflowStarted).WorkflowID)
	})
	bus.Subscribe(KindWorkflowStarted, func(ctx context.Context, event Event) {
		mu.Lock()
		defer mu.Unlock()
		started = append(started, event.(WorkflowStarted).WorkflowID)
	})
	bus.Subscribe(KindWorkflowFinished, func(ctx context.Context, event Event) {
		mu.Lock()
		defer mu.Unlock()
		finished = append(finished, event.(WorkflowFinished).WorkflowID)
	})

	bus.Publish(context.Background(), WorkflowStarted{WorkflowID: "wf_1"})
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"wf_1", "wf_1"}, started)
	assert.Empty(t, finished)
}

func TestNilBusDropsEverything(t *testing.T) {
	// Test that a nil bus accepts publishes and subscriptions without
	// panicking, so event emission stays optional.
	var bus *Bus

	bus.Subscribe(KindWorkflowStarted, func(ctx context.Context, event Event) {})
	bus.Publish(context.Background(), WorkflowStarted{WorkflowID: "wf_1"})
	bus.Close()
}

func TestPublishSurvivesPanickingHandler(t *testing.T) {
	// Test that a panicking handler never takes down the publisher or
	// other subscribers.
	bus := NewBus()

	delivered := make(chan struct{}, 1)
	bus.Subscribe(KindGateDecided, func(ctx context.Context, event Event) {
		panic("handler bug")
	})
	bus.Subscribe(KindGateDecided, func(ctx context.Context, event Event) {
		delivered <- struct{}{}
	})

	bus.Publish(context.Background(), GateDecided{WorkflowID: "wf_1", Action: "approve"})

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("second subscriber never received the event")
	}
	bus.Close()
}

func TestCloseWaitsForHandlers(t *testing.T) {
	// Test that Close blocks until in-flight handlers finish.
	bus := NewBus()

	var mu sync.Mutex
	done := false
	bus.Subscribe(KindPhaseCompleted, func(ctx context.Context, event Event) {
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		done = true
	})

	bus.Publish(context.Background(), PhaseCompleted{WorkflowID: "wf_1", PhaseID: "phase_1"})
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, done)
}

// =============================================================================
// EVENT SHAPE TESTS
// =============================================================================

func TestEventKinds(t *testing.T) {
	// Test that each event reports its kind constant.
	cases := []struct {
		event Event
		kind  string
	}{
		{WorkflowStarted{}, KindWorkflowStarted},
		{WorkflowFinished{}, KindWorkflowFinished},
		{PlanVersionCreated{}, KindPlanVersionCreated},
		{ReflectionRecorded{}, KindReflectionRecorded},
		{GateDecided{}, KindGateDecided},
		{PhaseAttemptFinished{}, KindPhaseAttemptFinished},
		{PhaseCompleted{}, KindPhaseCompleted},
	}
	for _, tc := range cases {
		require.Equal(t, tc.kind, tc.event.Kind())
	}
}

package stream

import (
	"context"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/ashureev/fsagent/internal/agent"
)

func publish(t *testing.T, h *Hub, events ...agent.Event) {
	t.Helper()
	for _, e := range events {
		assert.NilError(t, h.Publish(context.Background(), e))
	}
}

func drain(ch <-chan agent.Event) []agent.Event {
	var out []agent.Event
	for e := range ch {
		out = append(out, e)
	}
	return out
}

func TestHubReplaysThenStreams(t *testing.T) {
	h := NewHub(HubConfig{}, nil)
	publish(t, h, agent.Event{RunID: "r1", Seq: 1, Type: agent.EventRunStarted})
	assert.Assert(t, h.Known("r1"))
	assert.Assert(t, !h.Known("r2"))

	replay, live, cancel := h.Subscribe("r1")
	defer cancel()
	assert.DeepEqual(t, seqs(replay), []int{1})
	assert.Equal(t, h.Subscribers("r1"), 1)

	publish(t, h,
		agent.Event{RunID: "r1", Seq: 2, Type: agent.EventMessage},
		agent.Event{RunID: "r2", Seq: 1, Type: agent.EventRunStarted},
		agent.Event{RunID: "r1", Seq: 3, Type: agent.EventFinalAnswer},
	)

	got := drain(live)
	assert.DeepEqual(t, seqs(got), []int{2, 3})
	assert.Equal(t, h.Subscribers("r1"), 0)
}

func TestHubSubscribeAfterFinish(t *testing.T) {
	h := NewHub(HubConfig{}, nil)
	publish(t, h,
		agent.Event{RunID: "r1", Seq: 1, Type: agent.EventRunStarted},
		agent.Event{RunID: "r1", Seq: 2, Type: agent.EventRunFailed},
	)

	replay, live, cancel := h.Subscribe("r1")
	defer cancel()
	assert.DeepEqual(t, seqs(replay), []int{1, 2})
	_, open := <-live
	assert.Assert(t, !open)

	// Events after the terminal one are ignored.
	publish(t, h, agent.Event{RunID: "r1", Seq: 3, Type: agent.EventMessage})
	replay, _, _ = h.Subscribe("r1")
	assert.Equal(t, len(replay), 2)
}

func TestHubCancelStopsDelivery(t *testing.T) {
	h := NewHub(HubConfig{}, nil)
	_, live, cancel := h.Subscribe("r1")
	cancel()
	cancel()

	_, open := <-live
	assert.Assert(t, !open)
	publish(t, h, agent.Event{RunID: "r1", Seq: 1, Type: agent.EventRunStarted})
	assert.Equal(t, h.Subscribers("r1"), 0)
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	h := NewHub(HubConfig{SubscriberQueue: 1}, nil)
	_, live, cancel := h.Subscribe("r1")
	defer cancel()

	publish(t, h,
		agent.Event{RunID: "r1", Seq: 1, Type: agent.EventRunStarted},
		agent.Event{RunID: "r1", Seq: 2, Type: agent.EventMessage},
	)
	assert.Equal(t, (<-live).Seq, 1)
	select {
	case e := <-live:
		t.Fatalf("expected dropped event, got %+v", e)
	default:
	}
}

func TestHubEvictsOldFinishedRuns(t *testing.T) {
	h := NewHub(HubConfig{RetainedRuns: 2}, nil)
	for _, id := range []string{"a", "b", "c"} {
		publish(t, h,
			agent.Event{RunID: id, Seq: 1, Type: agent.EventRunStarted},
			agent.Event{RunID: id, Seq: 2, Type: agent.EventFinalAnswer},
		)
	}
	assert.Assert(t, !h.Known("a"))
	assert.Assert(t, h.Known("b"))
	assert.Assert(t, h.Known("c"))
}

package batch

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcasterDropsWhenFull(t *testing.T) {
	b := NewBroadcaster(logr.Discard())
	ch := b.Subscribe(1)

	b.Broadcast(Event{JobID: "a"})
	b.Broadcast(Event{JobID: "b"})

	ev := <-ch
	assert.Equal(t, "a", ev.JobID)
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}

	b.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)
	b.Unsubscribe(ch)
}

func TestManagerBroadcastsStateChanges(t *testing.T) {
	m := NewManager()
	ch := m.Events().Subscribe(10)

	job := m.CreateJob("a.yaml")
	require.NoError(t, m.UpdateJob(job.ID, func(j *Job) { j.State = StateRunning }))
	require.NoError(t, m.UpdateJob(job.ID, func(j *Job) { j.Iterations = 3 }))
	m.finish(job.ID, StateCompleted, nil)
	m.Events().Unsubscribe(ch)

	var states []JobState
	for ev := range ch {
		assert.Equal(t, job.ID, ev.JobID)
		states = append(states, ev.State)
	}
	assert.Equal(t, []JobState{StateRunning, StateCompleted}, states)
}

func TestRunnerPublishesJobEvents(t *testing.T) {
	r := NewRunner("osqp")
	ch := r.Jobs().Events().Subscribe(16)

	_, err := r.Run(context.Background(), []string{"testdata/box.yaml", "testdata/missing.yaml"})
	require.NoError(t, err)
	r.Jobs().Events().Unsubscribe(ch)

	final := map[string]Event{}
	for ev := range ch {
		final[ev.Path] = ev
	}
	require.Len(t, final, 2)
	assert.Equal(t, StateCompleted, final["testdata/box.yaml"].State)
	assert.Equal(t, "success", final["testdata/box.yaml"].Result)
	assert.Equal(t, StateFailed, final["testdata/missing.yaml"].State)
	assert.NotEmpty(t, final["testdata/missing.yaml"].Error)
}

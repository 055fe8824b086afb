package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingNotifier struct {
	events []Event
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	return r.err
}

func TestWebhookNotifier(t *testing.T) {
	t.Parallel()

	var (
		calls    atomic.Int32
		received Event
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if received.TaskID == "fail" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(server.Close)

	notifier, err := NewWebhookNotifier(server.URL, time.Second, zap.NewNop())
	require.NoError(t, err)

	event := Event{
		Type:       EventTaskCompleted,
		OccurredAt: time.Date(2024, 3, 14, 9, 0, 0, 0, time.UTC),
		TaskID:     "tc-1-2024-03-14",
		ObjectID:   "obj-1",
		ActorID:    "mgr-1",
		Payload:    map[string]any{"status": "COMPLETED"},
	}
	require.NoError(t, notifier.Notify(context.Background(), event))
	assert.Equal(t, event.TaskID, received.TaskID)
	assert.Equal(t, EventTaskCompleted, received.Type)
	assert.True(t, event.OccurredAt.Equal(received.OccurredAt))

	event.TaskID = "fail"
	err = notifier.Notify(context.Background(), event)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.EqualValues(t, 2, calls.Load(), "rejected deliveries are not retried")

	_, err = NewWebhookNotifier(" ", time.Second, nil)
	assert.Error(t, err)
}

func TestMulti(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	first := &recordingNotifier{err: boom}
	second := &recordingNotifier{}
	multi := Multi{first, nil, second, NewLogNotifier(nil)}

	err := multi.Notify(context.Background(), Event{Type: EventChecklistCompleted, ObjectID: "obj-1"})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, first.events, 1)
	assert.Len(t, second.events, 1, "a failing sink does not stop the others")

	assert.NoError(t, Multi{}.Notify(context.Background(), Event{}))
}

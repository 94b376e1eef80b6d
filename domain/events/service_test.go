package events

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridoc-ai/veridoc/internal/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestService(t *testing.T, fieldRate float64) *Service {
	t.Helper()
	cfg := &config.Config{
		Events: config.EventsConfig{
			FieldEventRatePerSec: fieldRate,
			BufferSize:           64,
		},
	}
	return NewService(cfg, newTestLogger())
}

func TestNewService(t *testing.T) {
	svc := newTestService(t, 0)

	assert.NotNil(t, svc)
	assert.NotNil(t, svc.subscribers)
	assert.Empty(t, svc.subscribers)
	assert.Equal(t, 64, svc.bufferSize)
}

func TestSubscribe(t *testing.T) {
	svc := newTestService(t, 0)

	jobID := "job-123"
	unsubscribe := svc.Subscribe(jobID, func(Event) {})
	require.NotNil(t, unsubscribe)

	assert.Equal(t, 1, svc.SubscriberCount(jobID))
	assert.Equal(t, 1, svc.TotalSubscriberCount())

	unsubscribe()

	assert.Equal(t, 0, svc.SubscriberCount(jobID))
	assert.Equal(t, 0, svc.TotalSubscriberCount())
}

func TestSubscribe_MultipleSubscribers(t *testing.T) {
	svc := newTestService(t, 0)

	jobID := "job-123"
	unsub1 := svc.Subscribe(jobID, func(Event) {})
	unsub2 := svc.Subscribe(jobID, func(Event) {})
	unsub3 := svc.Subscribe(jobID, func(Event) {})

	assert.Equal(t, 3, svc.SubscriberCount(jobID))

	unsub2()
	assert.Equal(t, 2, svc.SubscriberCount(jobID))

	unsub1()
	unsub3()
	assert.Equal(t, 0, svc.SubscriberCount(jobID))
}

func TestSubscribe_MultipleJobs(t *testing.T) {
	svc := newTestService(t, 0)

	svc.Subscribe("job-1", func(Event) {})
	svc.Subscribe("job-1", func(Event) {})
	svc.Subscribe("job-2", func(Event) {})

	assert.Equal(t, 2, svc.SubscriberCount("job-1"))
	assert.Equal(t, 1, svc.SubscriberCount("job-2"))
	assert.Equal(t, 3, svc.TotalSubscriberCount())
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	svc := newTestService(t, 0)

	unsubscribe := svc.Subscribe("job-123", func(Event) {})
	unsubscribe()
	unsubscribe() // second call must be a no-op

	assert.Equal(t, 0, svc.SubscriberCount("job-123"))
}

func TestPublish_DeliversToSubscriber(t *testing.T) {
	svc := newTestService(t, 0)

	jobID := "job-123"
	received := make(chan Event, 1)
	unsubscribe := svc.Subscribe(jobID, func(ev Event) {
		received <- ev
	})
	defer unsubscribe()

	svc.Publish(jobID, NewDocumentStarted(jobID, "doc-1", "invoice.pdf", 3))

	select {
	case ev := <-received:
		assert.Equal(t, EventDocumentStarted, ev.Type)
		assert.Equal(t, jobID, ev.JobID)
		assert.Equal(t, "doc-1", ev.DocumentID)
		assert.Equal(t, "invoice.pdf", ev.DocumentName)
		assert.Equal(t, 3, ev.TotalPages)
		assert.NotEmpty(t, ev.Timestamp)
		_, err := time.Parse(time.RFC3339Nano, ev.Timestamp)
		assert.NoError(t, err, "timestamp should be RFC3339")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublish_NoSubscribers(t *testing.T) {
	svc := newTestService(t, 0)

	// Must not panic or block when nobody is listening.
	svc.Publish("job-unwatched", NewDocumentCompleted("job-unwatched", "doc-1", "a.pdf", 12, 1500))

	assert.Equal(t, 0, svc.TotalSubscriberCount())
}

func TestPublish_OrderPreservedPerSubscriber(t *testing.T) {
	svc := newTestService(t, 0)

	jobID := "job-123"
	const n = 50

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})

	unsubscribe := svc.Subscribe(jobID, func(ev Event) {
		mu.Lock()
		got = append(got, ev.FieldName)
		if len(got) == n {
			close(done)
		}
		mu.Unlock()
	})
	defer unsubscribe()

	for i := 0; i < n; i++ {
		svc.Publish(jobID, NewFieldExtracted(jobID, fmt.Sprintf("field_%03d", i), "v", 0.9, 1))
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for events")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, n)
	for i := 0; i < n; i++ {
		assert.Equal(t, fmt.Sprintf("field_%03d", i), got[i], "events must arrive in publish order")
	}
}

func TestPublish_MultipleSubscribersEachReceive(t *testing.T) {
	svc := newTestService(t, 0)

	jobID := "job-123"
	var wg sync.WaitGroup
	wg.Add(2)

	mk := func() func(Event) {
		var once sync.Once
		return func(Event) { once.Do(wg.Done) }
	}
	unsub1 := svc.Subscribe(jobID, mk())
	unsub2 := svc.Subscribe(jobID, mk())
	defer unsub1()
	defer unsub2()

	svc.Publish(jobID, NewDocumentFailed(jobID, "doc-1", "a.pdf", "vision timeout"))

	waitDone := make(chan struct{})
	go func() { wg.Wait(); close(waitDone) }()
	select {
	case <-waitDone:
	case <-time.After(2 * time.Second):
		t.Fatal("not all subscribers received the event")
	}
}

func TestPublish_JobIsolation(t *testing.T) {
	svc := newTestService(t, 0)

	other := make(chan Event, 1)
	unsubscribe := svc.Subscribe("job-b", func(ev Event) { other <- ev })
	defer unsubscribe()

	svc.Publish("job-a", NewDocumentStarted("job-a", "doc-1", "a.pdf", 1))

	select {
	case ev := <-other:
		t.Fatalf("subscriber for job-b received event for %s", ev.JobID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublish_AfterUnsubscribe(t *testing.T) {
	svc := newTestService(t, 0)

	jobID := "job-123"
	received := make(chan Event, 8)
	unsubscribe := svc.Subscribe(jobID, func(ev Event) { received <- ev })
	unsubscribe()

	svc.Publish(jobID, NewDocumentStarted(jobID, "doc-1", "a.pdf", 1))

	select {
	case <-received:
		t.Fatal("received event after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublish_FieldEventThrottle(t *testing.T) {
	// 1 field event per second with burst 1: out of a rapid burst of 20
	// only the first should get through.
	svc := newTestService(t, 1)

	jobID := "job-123"
	var mu sync.Mutex
	count := 0
	unsubscribe := svc.Subscribe(jobID, func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	defer unsubscribe()

	for i := 0; i < 20; i++ {
		svc.Publish(jobID, NewFieldExtracted(jobID, "f", "v", 0.9, 1))
	}

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	got := count
	mu.Unlock()
	assert.LessOrEqual(t, got, 2, "throttle should drop most of the burst")
	assert.GreaterOrEqual(t, got, 1, "first event must pass")
	assert.Positive(t, svc.DroppedCount())
}

func TestPublish_ThrottleNeverDropsLifecycleEvents(t *testing.T) {
	svc := newTestService(t, 1)

	jobID := "job-123"
	var mu sync.Mutex
	var types []EventType
	done := make(chan struct{})
	unsubscribe := svc.Subscribe(jobID, func(ev Event) {
		mu.Lock()
		types = append(types, ev.Type)
		if len(types) == 20 {
			close(done)
		}
		mu.Unlock()
	})
	defer unsubscribe()

	for i := 0; i < 10; i++ {
		svc.Publish(jobID, NewDocumentStarted(jobID, "doc", "a.pdf", 1))
		svc.Publish(jobID, NewDocumentCompleted(jobID, "doc", "a.pdf", 3, 900))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lifecycle events must not be throttled")
	}
}

func TestEventConstructors(t *testing.T) {
	started := NewDocumentStarted("j", "d", "f.pdf", 4)
	assert.Equal(t, EventDocumentStarted, started.Type)
	assert.Equal(t, "f.pdf", started.DocumentName)
	assert.Equal(t, 4, started.TotalPages)

	field := NewFieldExtracted("j", "invoice_number", "INV-42", 0.87, 3)
	assert.Equal(t, EventFieldExtracted, field.Type)
	assert.Equal(t, "invoice_number", field.FieldName)
	assert.Equal(t, "INV-42", field.FieldValue)
	assert.Equal(t, 3, field.Page)
	assert.InDelta(t, 0.87, field.Confidence, 1e-9)

	completed := NewDocumentCompleted("j", "d", "f.pdf", 17, 2500)
	assert.Equal(t, EventDocumentCompleted, completed.Type)
	assert.Equal(t, 17, completed.FieldsExtracted)
	assert.Equal(t, int64(2500), completed.ProcessingTimeMs)

	failed := NewDocumentFailed("j", "d", "f.pdf", "corrupt pdf")
	assert.Equal(t, EventDocumentFailed, failed.Type)
	assert.Equal(t, "corrupt pdf", failed.Error)

	connected := newConnected("j")
	assert.Equal(t, EventConnected, connected.Type)
	assert.NotEmpty(t, connected.Timestamp)
}

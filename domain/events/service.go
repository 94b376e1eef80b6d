package events

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/veridoc-ai/veridoc/internal/config"
	"github.com/veridoc-ai/veridoc/pkg/logger"
)

// subscriber buffers events for one consumer and delivers them in order
// on a dedicated goroutine. The channel is never closed; the dispatch
// goroutine exits via done, so Publish can never send on a closed channel.
type subscriber struct {
	id   uint64
	ch   chan Event
	done chan struct{}
}

// Service is the in-process event bus for bulk job progress.
// Publishing is best-effort: events for jobs without subscribers are
// dropped, and a slow subscriber loses events rather than blocking the
// extraction workers.
type Service struct {
	log        *slog.Logger
	bufferSize int

	mu          sync.RWMutex
	subscribers map[string]map[uint64]*subscriber // jobID -> subscriber id -> subscriber
	nextID      uint64

	// Optional throttle for field_extracted events, per job. Zero rate
	// disables throttling. Completion/failure events are never throttled.
	fieldRate rate.Limit
	limMu     sync.Mutex
	limiters  map[string]*rate.Limiter

	dropped atomic.Int64
}

// NewService creates the event bus.
func NewService(cfg *config.Config, log *slog.Logger) *Service {
	bufferSize := cfg.Events.BufferSize
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Service{
		log:         log.With(logger.Scope("events")),
		bufferSize:  bufferSize,
		subscribers: make(map[string]map[uint64]*subscriber),
		fieldRate:   rate.Limit(cfg.Events.FieldEventRatePerSec),
		limiters:    make(map[string]*rate.Limiter),
	}
}

// Subscribe registers fn for all events published to jobID and returns an
// unsubscribe function. Events are delivered sequentially per subscriber,
// preserving publish order. fn must not block for long; events arriving
// while the buffer is full are dropped.
func (s *Service) Subscribe(jobID string, fn func(Event)) func() {
	sub := &subscriber{
		ch:   make(chan Event, s.bufferSize),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	s.nextID++
	sub.id = s.nextID
	if s.subscribers[jobID] == nil {
		s.subscribers[jobID] = make(map[uint64]*subscriber)
	}
	s.subscribers[jobID][sub.id] = sub
	count := len(s.subscribers[jobID])
	s.mu.Unlock()

	go func() {
		for {
			select {
			case ev := <-sub.ch:
				fn(ev)
			case <-sub.done:
				return
			}
		}
	}()

	s.log.Debug("subscriber attached",
		slog.String("job_id", jobID),
		slog.Int("job_subscribers", count))

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if subs, ok := s.subscribers[jobID]; ok {
				delete(subs, sub.id)
				if len(subs) == 0 {
					delete(s.subscribers, jobID)
					s.dropLimiter(jobID)
				}
			}
			s.mu.Unlock()
			close(sub.done)

			s.log.Debug("subscriber detached", slog.String("job_id", jobID))
		})
	}
}

// Publish fans ev out to every subscriber of jobID. It never blocks: with
// no subscribers the event is dropped silently, and full subscriber
// buffers are skipped.
func (s *Service) Publish(jobID string, ev Event) {
	ev.JobID = jobID
	ev = ev.stamp()

	s.mu.RLock()
	subs := s.subscribers[jobID]
	if len(subs) == 0 {
		s.mu.RUnlock()
		return
	}

	if ev.Type == EventFieldExtracted && s.fieldRate > 0 && !s.limiter(jobID).Allow() {
		s.mu.RUnlock()
		s.dropped.Add(1)
		return
	}

	for _, sub := range subs {
		select {
		case sub.ch <- ev:
		default:
			s.dropped.Add(1)
		}
	}
	s.mu.RUnlock()
}

// SubscriberCount returns the number of subscribers for one job.
func (s *Service) SubscriberCount(jobID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers[jobID])
}

// TotalSubscriberCount returns the number of subscribers across all jobs.
func (s *Service) TotalSubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, subs := range s.subscribers {
		total += len(subs)
	}
	return total
}

// DroppedCount returns how many events were discarded because of full
// buffers or throttling. Exposed for the metrics endpoint.
func (s *Service) DroppedCount() int64 {
	return s.dropped.Load()
}

func (s *Service) limiter(jobID string) *rate.Limiter {
	s.limMu.Lock()
	defer s.limMu.Unlock()
	lim, ok := s.limiters[jobID]
	if !ok {
		lim = rate.NewLimiter(s.fieldRate, 1)
		s.limiters[jobID] = lim
	}
	return lim
}

func (s *Service) dropLimiter(jobID string) {
	s.limMu.Lock()
	delete(s.limiters, jobID)
	s.limMu.Unlock()
}

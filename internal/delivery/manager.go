// Package delivery fans review events out to external channels (operator webhook,
// RabbitMQ, S3 archive) with bounded retries. Delivery runs in the background and
// never blocks the request that produced the event.
package delivery

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Status represents the status of a delivery
type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// Channel is a destination for events.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, event *Event) error
}

// Event represents an event that needs to be delivered
type Event struct {
	ID           string          `json:"id"`
	EventType    string          `json:"event_type"`
	Data         json.RawMessage `json:"data"`
	CreatedAt    time.Time       `json:"created_at"`
	AttemptCount int             `json:"attempt_count"`
	Status       Status          `json:"status"`
	LastError    string          `json:"last_error,omitempty"`
	// Delivered lists the channels that already accepted the event; retries skip them.
	Delivered map[string]bool `json:"delivered"`

	inFlight bool
}

// Result represents the result of a delivery attempt
type Result struct {
	Channel   string    `json:"channel"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Duration  int64     `json:"duration_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// Options tunes retry behavior. Zero values fall back to defaults.
type Options struct {
	MaxRetries   int
	RetryBackoff time.Duration
	Timeout      time.Duration
}

// Manager manages reliable event delivery to multiple channels
type Manager struct {
	mu            sync.RWMutex
	pendingEvents map[string]*Event
	channels      []Channel
	maxRetries    int
	retryBackoff  time.Duration
	timeout       time.Duration
	now           func() time.Time
}

// NewManager creates a Manager delivering to channels.
func NewManager(channels []Channel, opts Options) *Manager {
	m := &Manager{
		pendingEvents: make(map[string]*Event),
		channels:      channels,
		maxRetries:    3,
		retryBackoff:  2 * time.Second,
		timeout:       10 * time.Second,
		now:           time.Now,
	}
	if opts.MaxRetries > 0 {
		m.maxRetries = opts.MaxRetries
	}
	if opts.RetryBackoff > 0 {
		m.retryBackoff = opts.RetryBackoff
	}
	if opts.Timeout > 0 {
		m.timeout = opts.Timeout
	}

	names := make([]string, 0, len(channels))
	for _, c := range channels {
		names = append(names, c.Name())
	}
	log.Info().
		Strs("channels", names).
		Int("maxRetries", m.maxRetries).
		Dur("timeout", m.timeout).
		Msg("Delivery manager initialized")
	return m
}

// Run retries pending events every retry backoff until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.retryBackoff)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RetryPending()
		}
	}
}

// Enqueue marshals payload, tracks it as a pending event and starts delivering it.
// It returns the generated event id, or "" when there is nowhere to deliver.
func (m *Manager) Enqueue(eventType string, payload any) string {
	if len(m.channels) == 0 {
		return ""
	}

	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("eventType", eventType).Msg("Failed to marshal event payload")
		return ""
	}

	event := &Event{
		ID:        uuid.NewString(),
		EventType: eventType,
		Data:      data,
		CreatedAt: m.now(),
		Status:    StatusPending,
		Delivered: make(map[string]bool),
	}

	m.mu.Lock()
	m.pendingEvents[event.ID] = event
	event.inFlight = true
	m.mu.Unlock()

	log.Info().
		Str("eventID", event.ID).
		Str("eventType", eventType).
		Msg("Starting parallel delivery")

	go m.processDelivery(event)
	return event.ID
}

// processDelivery sends event to every channel that has not accepted it yet.
// The caller must have set event.inFlight.
func (m *Manager) processDelivery(event *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.mu.RLock()
	targets := make([]Channel, 0, len(m.channels))
	for _, c := range m.channels {
		if !event.Delivered[c.Name()] {
			targets = append(targets, c)
		}
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	results := make(chan Result, len(targets))
	for _, c := range targets {
		wg.Add(1)
		go func(c Channel) {
			defer wg.Done()
			results <- m.deliverTo(ctx, c, event)
		}(c)
	}
	wg.Wait()
	close(results)

	m.mu.Lock()
	defer m.mu.Unlock()
	event.inFlight = false

	allSuccess := true
	for result := range results {
		if result.Success {
			event.Delivered[result.Channel] = true
		} else {
			allSuccess = false
			event.LastError = result.Channel + ": " + result.Error
		}
	}

	if allSuccess {
		event.Status = StatusDelivered
		delete(m.pendingEvents, event.ID)
		log.Info().
			Str("eventID", event.ID).
			Int("channelsDelivered", len(event.Delivered)).
			Msg("Event successfully delivered to all channels")
		return
	}

	event.AttemptCount++
	if event.AttemptCount >= m.maxRetries {
		event.Status = StatusFailed
		delete(m.pendingEvents, event.ID)
		log.Error().
			Str("eventID", event.ID).
			Int("attemptCount", event.AttemptCount).
			Str("lastError", event.LastError).
			Msg("Event delivery failed permanently")
		return
	}
	log.Warn().
		Str("eventID", event.ID).
		Int("attemptCount", event.AttemptCount).
		Int("maxRetries", m.maxRetries).
		Msg("Event delivery partially failed, will retry")
}

func (m *Manager) deliverTo(ctx context.Context, c Channel, event *Event) Result {
	start := time.Now()
	result := Result{Channel: c.Name(), Timestamp: start}

	err := c.Deliver(ctx, event)
	result.Duration = time.Since(start).Milliseconds()
	if err != nil {
		result.Error = err.Error()
		log.Error().
			Err(err).
			Str("eventID", event.ID).
			Str("channel", c.Name()).
			Msg("Channel delivery failed")
		return result
	}

	result.Success = true
	log.Debug().
		Str("eventID", event.ID).
		Str("channel", c.Name()).
		Int64("durationMs", result.Duration).
		Msg("Channel delivery succeeded")
	return result
}

// RetryPending restarts delivery of pending events older than the retry backoff.
// It returns how many deliveries were started.
func (m *Manager) RetryPending() int {
	m.mu.Lock()
	toRetry := make([]*Event, 0)
	for _, event := range m.pendingEvents {
		if !event.inFlight &&
			event.Status == StatusPending &&
			event.AttemptCount < m.maxRetries &&
			m.now().Sub(event.CreatedAt) > m.retryBackoff {
			event.inFlight = true
			toRetry = append(toRetry, event)
		}
	}
	m.mu.Unlock()

	for _, event := range toRetry {
		log.Info().
			Str("eventID", event.ID).
			Int("attemptCount", event.AttemptCount).
			Msg("Retrying failed event delivery")
		go m.processDelivery(event)
	}
	return len(toRetry)
}

// Retry resets the attempt count of a pending event and delivers it again now.
// It reports false when the event is unknown or already being delivered.
func (m *Manager) Retry(eventID string) bool {
	m.mu.Lock()
	event, ok := m.pendingEvents[eventID]
	if !ok || event.inFlight {
		m.mu.Unlock()
		return false
	}
	event.AttemptCount = 0
	event.Status = StatusPending
	event.inFlight = true
	m.mu.Unlock()

	log.Info().Str("eventID", eventID).Msg("Manual retry triggered for event")
	go m.processDelivery(event)
	return true
}

// Summary describes the manager for the status endpoint.
type Summary struct {
	Status         string   `json:"status"`
	Channels       []string `json:"channels"`
	PendingEvents  int      `json:"pending_events"`
	MaxRetries     int      `json:"max_retries"`
	TimeoutMs      int64    `json:"timeout_ms"`
	RetryBackoffMs int64    `json:"retry_backoff_ms"`
}

// Summary returns current counters and settings.
func (m *Manager) Summary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for _, c := range m.channels {
		names = append(names, c.Name())
	}
	return Summary{
		Status:         "running",
		Channels:       names,
		PendingEvents:  len(m.pendingEvents),
		MaxRetries:     m.maxRetries,
		TimeoutMs:      m.timeout.Milliseconds(),
		RetryBackoffMs: m.retryBackoff.Milliseconds(),
	}
}

// PendingEvents returns copies of up to limit pending events.
func (m *Manager) PendingEvents(limit int) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Event, 0)
	for _, event := range m.pendingEvents {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, event.snapshot())
	}
	return out
}

// GetEventStatus returns a copy of a pending event.
func (m *Manager) GetEventStatus(eventID string) (Event, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	event, ok := m.pendingEvents[eventID]
	if !ok {
		return Event{}, false
	}
	return event.snapshot(), true
}

// snapshot must be called with the manager lock held.
func (e *Event) snapshot() Event {
	c := *e
	c.Delivered = make(map[string]bool, len(e.Delivered))
	for k, v := range e.Delivered {
		c.Delivered[k] = v
	}
	return c
}

package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"idlechain/observability"
	"idlechain/services/settlementd/models"
)

// EventType is the webhook topic.
type EventType string

const (
	// EventBlockSettled is emitted once per committed block.
	EventBlockSettled EventType = "block.settled"

	// SignatureHeader carries "sha256=<hex hmac>" of the body.
	SignatureHeader = "X-Settlement-Signature"
	// EventHeader carries the event type.
	EventHeader = "X-Settlement-Event"

	defaultMaxAttempts = 5
	defaultMinBackoff  = 2 * time.Second
	defaultMaxBackoff  = 30 * time.Second
	defaultQueueSize   = 64
)

// ErrQueueFull is returned when the dispatcher cannot accept more events.
var ErrQueueFull = errors.New("webhook: queue full")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("webhook: dispatcher closed")

// BlockSettledPayload is the body of a block.settled delivery.
type BlockSettledPayload struct {
	Type              EventType `json:"type"`
	Number            uint64    `json:"number"`
	Hash              string    `json:"hash"`
	TotalReward       int64     `json:"totalReward"`
	DistributedReward int64     `json:"distributedReward"`
	ParticipantCount  int       `json:"participantCount"`
	SettledAt         time.Time `json:"settledAt"`
	DeliveryID        string    `json:"deliveryId"`
}

// Dispatcher delivers signed events with retry and exponential backoff on a
// single background worker.
type Dispatcher struct {
	endpoint    string
	secret      []byte
	client      *http.Client
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan delivery
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

type delivery struct {
	eventType EventType
	id        string
	body      []byte
}

// Option mutates dispatcher configuration.
type Option func(*Dispatcher)

// WithHTTPClient overrides the HTTP client used for deliveries.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// WithRetryPolicy overrides the retry configuration.
func WithRetryPolicy(maxAttempts int, minBackoff, maxBackoff time.Duration) Option {
	return func(d *Dispatcher) {
		if maxAttempts > 0 {
			d.maxAttempts = maxAttempts
		}
		if minBackoff > 0 {
			d.minBackoff = minBackoff
		}
		if maxBackoff >= minBackoff && maxBackoff > 0 {
			d.maxBackoff = maxBackoff
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher constructs a dispatcher and starts its worker.
func NewDispatcher(endpoint string, secret []byte, opts ...Option) (*Dispatcher, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("webhook: endpoint required")
	}
	if len(secret) == 0 {
		return nil, errors.New("webhook: secret required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		endpoint:    endpoint,
		secret:      append([]byte(nil), secret...),
		client:      &http.Client{Timeout: 15 * time.Second},
		maxAttempts: defaultMaxAttempts,
		minBackoff:  defaultMinBackoff,
		maxBackoff:  defaultMaxBackoff,
		logger:      slog.Default(),
		ctx:         ctx,
		cancel:      cancel,
		queue:       make(chan delivery, defaultQueueSize),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.wg.Add(1)
	go d.worker()
	return d, nil
}

// BlockSettled queues a block.settled event without blocking the caller.
func (d *Dispatcher) BlockSettled(_ context.Context, block models.Block) error {
	payload := BlockSettledPayload{
		Type:              EventBlockSettled,
		Number:            block.Number,
		Hash:              block.Hash,
		TotalReward:       block.TotalReward,
		DistributedReward: block.DistributedReward,
		ParticipantCount:  block.ParticipantCount,
		SettledAt:         block.SettledAt.UTC(),
		DeliveryID:        uuid.NewString(),
	}
	return d.enqueue(payload.Type, payload.DeliveryID, payload)
}

func (d *Dispatcher) enqueue(eventType EventType, id string, body any) error {
	if d == nil {
		return errors.New("webhook: dispatcher not initialised")
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.queue <- delivery{eventType: eventType, id: id, body: data}:
		return nil
	default:
		observability.Webhooks().RecordDelivery(string(eventType), "dropped")
		return ErrQueueFull
	}
}

// Close stops accepting events and waits for queued deliveries to finish.
// When ctx expires first, remaining retries are abandoned.
func (d *Dispatcher) Close(ctx context.Context) error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.queue {
		d.process(job)
	}
}

func (d *Dispatcher) process(job delivery) {
	backoff := d.minBackoff
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(d.ctx, d.client.Timeout)
		err := d.send(ctx, job)
		cancel()
		if err == nil {
			observability.Webhooks().RecordDelivery(string(job.eventType), "delivered")
			return
		}
		d.logger.Warn("webhook delivery failed",
			slog.String("event", string(job.eventType)),
			slog.String("delivery_id", job.id),
			slog.Int("attempt", attempt),
			slog.Any("error", err))
		if attempt >= d.maxAttempts {
			observability.Webhooks().RecordDelivery(string(job.eventType), "failed")
			return
		}
		observability.Webhooks().RecordDelivery(string(job.eventType), "retry")
		select {
		case <-time.After(backoff):
		case <-d.ctx.Done():
			return
		}
		backoff = nextBackoff(backoff, d.maxBackoff)
	}
}

func (d *Dispatcher) send(ctx context.Context, job delivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(job.body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, string(job.eventType))
	req.Header.Set(SignatureHeader, Sign(d.secret, job.body))
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("webhook: delivery failed with status %d", resp.StatusCode)
}

// Sign returns the signature header value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature header in constant time.
func Verify(secret, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max || next < current {
		return max
	}
	return next
}

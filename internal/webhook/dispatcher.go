// Package webhook delivers scan events to subscribed HTTP endpoints.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lyallcooper/scanstream/internal/db"
)

// Event names
const (
	EventScanCompleted = "scan.completed"
	EventScanFailed    = "scan.failed"
	EventCriticalFound = "critical.found"
)

// Events lists every event a webhook can subscribe to
var Events = []string{EventScanCompleted, EventScanFailed, EventCriticalFound}

// Delivery headers
const (
	HeaderEvent     = "X-Scanstream-Event"
	HeaderDelivery  = "X-Scanstream-Delivery"
	HeaderSignature = "X-Scanstream-Signature"
)

// Store is the subset of the database the dispatcher needs
type Store interface {
	ListEnabledWebhooks() ([]*db.Webhook, error)
	RecordWebhookDelivery(id int64, status string, at time.Time) error
}

// Envelope is the JSON body of every delivery
type Envelope struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Options configures a Dispatcher
type Options struct {
	Timeout     time.Duration // per attempt
	MaxAttempts int
	BaseDelay   time.Duration
	Concurrency int // deliveries in flight per event
}

func (o *Options) setDefaults() {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 500 * time.Millisecond
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
}

// Dispatcher fans events out to webhook subscriptions in the background
type Dispatcher struct {
	store  Store
	client *http.Client
	opts   Options
	log    logr.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewDispatcher creates a dispatcher reading subscriptions from store
func NewDispatcher(store Store, opts Options, log logr.Logger) *Dispatcher {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		store:  store,
		client: &http.Client{Timeout: opts.Timeout},
		opts:   opts,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Dispatch snapshots the subscriptions for event and delivers payload to
// them in the background. It never blocks on delivery and never fails.
func (d *Dispatcher) Dispatch(event string, payload any) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.log.V(1).Info("dispatcher closed, dropping event", "event", event)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	hooks, err := d.subscribers(event)
	if err != nil {
		d.wg.Done()
		d.log.Error(err, "failed to load webhooks", "event", event)
		return
	}
	if len(hooks) == 0 {
		d.wg.Done()
		return
	}

	env := Envelope{
		ID:        uuid.NewString(),
		Event:     event,
		Timestamp: time.Now().UTC(),
		Data:      payload,
	}
	body, err := json.Marshal(env)
	if err != nil {
		d.wg.Done()
		d.log.Error(err, "failed to encode webhook payload", "event", event)
		return
	}

	go func() {
		defer d.wg.Done()
		d.deliverAll(event, hooks, body)
	}()
}

func (d *Dispatcher) subscribers(event string) ([]*db.Webhook, error) {
	all, err := d.store.ListEnabledWebhooks()
	if err != nil {
		return nil, err
	}
	var hooks []*db.Webhook
	for _, h := range all {
		if h.Subscribes(event) {
			hooks = append(hooks, h)
		}
	}
	return hooks, nil
}

func (d *Dispatcher) deliverAll(event string, hooks []*db.Webhook, body []byte) {
	g := new(errgroup.Group)
	g.SetLimit(d.opts.Concurrency)

	for _, h := range hooks {
		g.Go(func() error {
			err := d.deliver(event, h, body)
			status := "delivered"
			if err != nil {
				status = err.Error()
				d.log.Info("webhook delivery failed", "webhook", h.ID, "event", event, "error", status)
			}
			if recErr := d.store.RecordWebhookDelivery(h.ID, status, time.Now()); recErr != nil {
				d.log.Error(recErr, "failed to record webhook delivery", "webhook", h.ID)
			}
			return err
		})
	}

	if err := g.Wait(); err != nil {
		d.log.V(1).Info("event delivered with failures", "event", event, "subscribers", len(hooks))
	}
}

func (d *Dispatcher) deliver(event string, h *db.Webhook, body []byte) error {
	deliveryID := uuid.NewString()
	return retry(d.ctx, d.opts.MaxAttempts, d.opts.BaseDelay, func(attempt int) error {
		req, err := http.NewRequestWithContext(d.ctx, http.MethodPost, h.URL, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "scanstream-webhook/1.0")
		req.Header.Set(HeaderEvent, event)
		req.Header.Set(HeaderDelivery, deliveryID)
		if h.Secret != "" {
			req.Header.Set(HeaderSignature, Sign(h.Secret, body))
		}

		resp, err := d.client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		d.log.V(1).Info("webhook delivered", "webhook", h.ID, "event", event, "attempt", attempt)
		return nil
	})
}

// Sign returns the signature header value for body
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Close stops accepting events and waits for in-flight deliveries. If ctx
// ends first, pending retries are abandoned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
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

package auth

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// webhookQueueSize is the bounded channel capacity for outbound entries.
const webhookQueueSize = 1024

// WebhookSink forwards access log entries to an external HTTP endpoint.
// Entries are enqueued without blocking into a bounded channel and sent by
// a background goroutine. If the channel is full, entries are dropped.
type WebhookSink struct {
	url        string
	authHeader string // "Header: Value", e.g. "Authorization: Bearer xxx"
	client     *http.Client
	retryDelay time.Duration
	logger     *slog.Logger

	mu     sync.RWMutex
	closed bool
	events chan Entry
	wg     sync.WaitGroup
}

var _ Sink = (*WebhookSink)(nil)

// NewWebhookSink creates a webhook dispatcher and starts its background loop.
func NewWebhookSink(url, authHeader string, logger *slog.Logger) *WebhookSink {
	if logger == nil {
		logger = slog.Default()
	}
	w := &WebhookSink{
		url:        url,
		authHeader: authHeader,
		client:     &http.Client{Timeout: 10 * time.Second},
		retryDelay: time.Second,
		logger:     logger.With("component", "access_log_webhook"),
		events:     make(chan Entry, webhookQueueSize),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// Write enqueues e. It never blocks; if the queue is full or the sink is
// closed, the entry is dropped and a warning is logged.
func (w *WebhookSink) Write(e Entry) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}
	select {
	case w.events <- e:
	default:
		w.logger.Warn("queue full, dropping entry", "event", e.Event, "seq", e.Seq)
	}
}

// Close stops accepting entries and waits for the queued ones to be sent.
func (w *WebhookSink) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.events)
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *WebhookSink) loop() {
	defer w.wg.Done()
	for e := range w.events {
		w.send(e)
	}
}

// send POSTs the entry with one retry on 5xx or transport errors.
func (w *WebhookSink) send(e Entry) {
	body, err := json.Marshal(e)
	if err != nil {
		w.logger.Warn("marshal failed", "error", err)
		return
	}

	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			time.Sleep(w.retryDelay)
		}

		req, err := http.NewRequest(http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			w.logger.Warn("request creation failed", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "editgate-access-log/1.0")
		if name, value, ok := strings.Cut(w.authHeader, ":"); ok {
			req.Header.Set(strings.TrimSpace(name), strings.TrimSpace(value))
		}

		resp, err := w.client.Do(req)
		if err != nil {
			w.logger.Warn("request failed", "error", err, "attempt", attempt+1)
			continue
		}
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return
		case resp.StatusCode >= 500:
			w.logger.Warn("server error", "status", resp.StatusCode, "attempt", attempt+1)
			continue
		}
		w.logger.Warn("client error", "status", resp.StatusCode)
		return
	}
}

package notify

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"sentraguard/internal/metrics"
)

const maxBackoff = 5 * time.Second

// Payload is the JSON document posted to the webhook.
type Payload struct {
	EventType string                 `json:"event_type"`
	Severity  string                 `json:"severity"`
	Details   map[string]interface{} `json:"details"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
}

// Dispatcher delivers security notifications. Primary channel is a webhook
// with bounded retry behind a circuit breaker; a structured log line acts
// as the secondary best-effort sink and is always attempted.
type Dispatcher struct {
	mu      sync.Mutex
	history map[string]time.Time

	webhookURL   string
	dedupeWindow time.Duration
	retryMax     int
	baseBackoff  time.Duration

	client  *http.Client
	breaker *gobreaker.CircuitBreaker[any]
	logger  *slog.Logger

	now   func() time.Time
	sleep func(time.Duration)
}

func NewDispatcher(webhookURL string, dedupeWindow time.Duration, retryMax int, baseBackoff time.Duration, logger *slog.Logger) *Dispatcher {
	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "notification-webhook",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Dispatcher{
		history:      make(map[string]time.Time),
		webhookURL:   webhookURL,
		dedupeWindow: dedupeWindow,
		retryMax:     retryMax,
		baseBackoff:  baseBackoff,
		client:       &http.Client{Timeout: 10 * time.Second},
		breaker:      breaker,
		logger:       logger,
		now:          time.Now,
		sleep:        time.Sleep,
	}
}

// Dispatch sends one notification. Returns false when the (event, target)
// pair was already sent within the dedupe window, or when a configured
// webhook could not be delivered to; with no webhook configured the
// secondary sink alone counts as delivery.
func (d *Dispatcher) Dispatch(eventType, severity string, details map[string]interface{}) bool {
	key := dedupeKey(eventType, details)
	now := d.now()

	d.mu.Lock()
	if last, ok := d.history[key]; ok && now.Sub(last) < d.dedupeWindow {
		d.mu.Unlock()
		d.logger.Debug("notification suppressed", "key", key)
		return false
	}
	d.history[key] = now
	d.pruneHistoryLocked(now)
	d.mu.Unlock()

	payload := Payload{
		EventType: eventType,
		Severity:  severity,
		Details:   details,
		Timestamp: now,
		Source:    "sentraguard",
	}

	webhookOK := false
	if d.webhookURL != "" {
		webhookOK = d.deliverWebhook(payload)
	}

	// Secondary sink: a structured line a downstream chat relay can tail.
	d.logger.Info("security notification",
		"notify_event", eventType, "severity", severity, "details", details)

	if d.webhookURL != "" {
		return webhookOK
	}
	return true
}

func (d *Dispatcher) deliverWebhook(payload Payload) bool {
	body, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error("marshal notification payload", "err", err)
		return false
	}

	backoff := d.baseBackoff
	for attempt := 1; attempt <= d.retryMax; attempt++ {
		metrics.NotificationAttempts.Inc()
		_, err := d.breaker.Execute(func() (any, error) {
			return nil, d.post(body)
		})
		if err == nil {
			metrics.NotificationSuccess.Inc()
			return true
		}
		d.logger.Warn("webhook delivery failed",
			"err", err, "attempt", attempt, "event_type", payload.EventType)
		if attempt < d.retryMax {
			metrics.NotificationRetries.Inc()
			d.sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
	metrics.NotificationFailures.Inc()
	return false
}

func (d *Dispatcher) post(body []byte) error {
	resp, err := d.client.Post(d.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// pruneHistoryLocked caps the dedupe map; entries past the window are
// dead weight.
func (d *Dispatcher) pruneHistoryLocked(now time.Time) {
	for k, t := range d.history {
		if now.Sub(t) >= d.dedupeWindow {
			delete(d.history, k)
		}
	}
}

func dedupeKey(eventType string, details map[string]interface{}) string {
	tt, _ := details["target_type"].(string)
	id, _ := details["target_id"].(string)
	return eventType + "|" + tt + "|" + id
}

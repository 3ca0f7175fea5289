package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"freshcheck/internal/config"
	"freshcheck/internal/domain"
	"freshcheck/internal/repo"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// WebhookDispatcher tails the event log and posts matching events to one URL.
// Delivery is at-least-once from the cursor taken at start.
type WebhookDispatcher struct {
	Repo     repo.Repo
	Hook     config.WebhookConfig
	Client   *http.Client
	Logger   *slog.Logger
	Interval time.Duration

	cursor int64
	filter eventFilter
}

func NewWebhookDispatcher(r repo.Repo, hook config.WebhookConfig, logger *slog.Logger) *WebhookDispatcher {
	interval := hook.Poll
	if interval <= 0 {
		interval = defaultWebhookInterval
	}
	return &WebhookDispatcher{
		Repo:     r,
		Hook:     hook,
		Client:   &http.Client{Timeout: defaultWebhookTimeout},
		Logger:   logger,
		Interval: interval,
		cursor:   -1,
		filter:   newEventFilter(hook.Events),
	}
}

// Run dispatches until ctx is cancelled. A dispatcher without a URL returns at once.
func (d *WebhookDispatcher) Run(ctx context.Context) {
	if strings.TrimSpace(d.Hook.URL) == "" {
		return
	}
	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()
	for {
		d.Dispatch(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Dispatch delivers one batch. It stops at the first failed delivery so the event is
// retried on the next tick.
func (d *WebhookDispatcher) Dispatch(ctx context.Context) {
	if d.cursor < 0 {
		cur, err := d.Repo.LatestEventID(ctx)
		if err != nil {
			d.Logger.Warn("webhook: init cursor failed", "err", err)
			return
		}
		d.cursor = cur
		return
	}
	events, err := d.Repo.EventsAfter(ctx, defaultWebhookBatch, d.cursor)
	if err != nil {
		d.Logger.Warn("webhook: fetch events failed", "err", err)
		return
	}
	for _, evt := range events {
		if !d.filter.match(evt.Type) {
			d.cursor = evt.ID
			continue
		}
		if err := d.postEvent(ctx, evt); err != nil {
			d.Logger.Warn("webhook: delivery failed", "url", d.Hook.URL, "event_id", evt.ID, "err", err)
			return
		}
		d.cursor = evt.ID
	}
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	UserID     string          `json:"userId,omitempty"`
	EntityKind string          `json:"entityKind"`
	EntityID   string          `json:"entityId,omitempty"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

func (d *WebhookDispatcher) postEvent(ctx context.Context, evt domain.Event) error {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	data, err := json.Marshal(webhookEvent{
		ID:         evt.ID,
		Type:       evt.Type,
		UserID:     evt.UserID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		TS:         evt.TS,
		Payload:    payload,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Freshcheck-Event", evt.Type)
	req.Header.Set("X-Freshcheck-Delivery", fmt.Sprintf("%d", evt.ID))
	if strings.TrimSpace(d.Hook.Secret) != "" {
		req.Header.Set("X-Freshcheck-Secret", d.Hook.Secret)
	}
	res, err := d.Client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		if key := strings.TrimSpace(evt); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}

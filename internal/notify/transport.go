package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/loykin/piperun/internal/common"
	"github.com/loykin/piperun/internal/httpc"
)

// WebhookConfig configures the JSON webhook transport.
type WebhookConfig struct {
	URL      string            `mapstructure:"url"`
	Headers  map[string]string `mapstructure:"headers"`
	Timeout  time.Duration     `mapstructure:"timeout"`
	Insecure bool              `mapstructure:"insecure"`
}

// Webhook POSTs the notification as JSON. Any non-2xx answer is a failure.
type Webhook struct {
	cfg WebhookConfig
	hc  *httpc.Httpc
}

// NewWebhook validates cfg and returns the transport.
func NewWebhook(cfg WebhookConfig) (*Webhook, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("webhook: url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Webhook{cfg: cfg, hc: &httpc.Httpc{Timeout: cfg.Timeout, Insecure: cfg.Insecure, Headers: cfg.Headers}}, nil
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Send(ctx context.Context, n Notification) error {
	resp, err := w.hc.New().R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(n).
		Post(w.cfg.URL)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned %d", resp.StatusCode())
	}
	return nil
}

// Log writes the notification as a structured log line.
type Log struct {
	logger *common.Logger
}

// NewLog returns a transport logging through the default logger.
func NewLog() *Log { return &Log{logger: common.GetLogger().WithComponent("notify-log")} }

func (l *Log) Name() string { return "log" }

func (l *Log) Send(_ context.Context, n Notification) error {
	l.logger.Info(n.Subject,
		"run_id", n.RunID,
		"kind", n.Kind,
		"outcome", n.Outcome,
		"recipients", strings.Join(n.Recipients, ","),
		"run_url", n.RunURL,
		"body", n.Body)
	return nil
}

// Discard drops every notification.
type Discard struct{}

func (Discard) Name() string { return "discard" }

func (Discard) Send(context.Context, Notification) error { return nil }

// Recorder keeps sent notifications in memory; useful for embedding and tests.
type Recorder struct {
	mu   sync.Mutex
	sent []Notification
	Err  error
}

func (r *Recorder) Name() string { return "recorder" }

func (r *Recorder) Send(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.Err
}

// Sent returns a copy of everything passed to Send.
func (r *Recorder) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.sent...)
}

// NewTransport builds a transport by kind from a loosely-typed spec.
func NewTransport(kind string, spec map[string]interface{}) (Transport, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "log":
		return NewLog(), nil
	case "discard", "none":
		return Discard{}, nil
	case "webhook":
		var c WebhookConfig
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &c,
			WeaklyTypedInput: true,
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		})
		if err != nil {
			return nil, err
		}
		if err := dec.Decode(spec); err != nil {
			return nil, fmt.Errorf("webhook: %w", err)
		}
		return NewWebhook(c)
	default:
		return nil, fmt.Errorf("notify: unsupported transport %q", kind)
	}
}

package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"brownout/internal/config"
)

const userAgent = "Brownout-Go/0.1.0"

// Pusher defines the operator notification surface. Implementations must be
// safe for concurrent use and tolerant of network failure; a lost push never
// blocks or fails a shutdown.
type Pusher interface {
	NotifyPowerLost(ctx context.Context) error
	NotifyPowerRestored(ctx context.Context) error
	NotifyShutdownCommitted(ctx context.Context, reason string) error
	NotifyShutdownAborted(ctx context.Context, reason string) error
	NotifyError(ctx context.Context, err error, contextLabel string) error
	TestNotification(ctx context.Context) error
}

// NewPusher builds a pusher backed by ntfy when a topic is configured, and a
// noop otherwise.
func NewPusher(cfg *config.Config) Pusher {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopPusher{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyPusher{
		endpoint:    topic,
		client:      &http.Client{Timeout: timeout},
		powerEvents: cfg.Notifications.PowerEvents,
		shutdown:    cfg.Notifications.Shutdown,
		errors:      cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyPusher struct {
	endpoint    string
	client      *http.Client
	powerEvents bool
	shutdown    bool
	errors      bool
}

func (n *ntfyPusher) NotifyPowerLost(ctx context.Context) error {
	if !n.powerEvents {
		return nil
	}
	data := payload{
		title:    "Brownout - Power Lost",
		message:  "External power lost, shutdown countdown started",
		tags:     []string{"brownout", "power", "lost"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyPusher) NotifyPowerRestored(ctx context.Context) error {
	if !n.powerEvents {
		return nil
	}
	data := payload{
		title:   "Brownout - Power Restored",
		message: "External power restored",
		tags:    []string{"brownout", "power", "restored"},
	}
	return n.send(ctx, data)
}

func (n *ntfyPusher) NotifyShutdownCommitted(ctx context.Context, reason string) error {
	if !n.shutdown {
		return nil
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown"
	}
	data := payload{
		title:    "Brownout - Shutting Down",
		message:  fmt.Sprintf("Shutdown committed: %s", reason),
		tags:     []string{"brownout", "shutdown", "committed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyPusher) NotifyShutdownAborted(ctx context.Context, reason string) error {
	if !n.shutdown {
		return nil
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown"
	}
	data := payload{
		title:   "Brownout - Shutdown Aborted",
		message: fmt.Sprintf("Shutdown aborted: %s", reason),
		tags:    []string{"brownout", "shutdown", "aborted"},
	}
	return n.send(ctx, data)
}

func (n *ntfyPusher) NotifyError(ctx context.Context, err error, contextLabel string) error {
	if !n.errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Brownout - Error",
		message:  builder.String(),
		tags:     []string{"brownout", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyPusher) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Brownout - Test",
		message:  "Notification system test",
		tags:     []string{"brownout", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyPusher) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopPusher struct{}

func (noopPusher) NotifyPowerLost(context.Context) error                 { return nil }
func (noopPusher) NotifyPowerRestored(context.Context) error             { return nil }
func (noopPusher) NotifyShutdownCommitted(context.Context, string) error { return nil }
func (noopPusher) NotifyShutdownAborted(context.Context, string) error   { return nil }
func (noopPusher) NotifyError(context.Context, error, string) error      { return nil }
func (noopPusher) TestNotification(context.Context) error                { return nil }

package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"guildtunes/internal/httputil"
	"guildtunes/internal/models"
)

type Notifier struct {
	client   *http.Client
	channels []models.AlertChannel
	now      func() time.Time
}

func New(channels []models.AlertChannel) *Notifier {
	return &Notifier{
		client:   httputil.NewClientWithTimeout(httputil.WebhookTimeout),
		channels: channels,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (n *Notifier) Enabled() bool { return len(n.channels) > 0 }

// NodeDown alerts every channel that a node stopped reconnecting.
func (n *Notifier) NodeDown(ctx context.Context, node string, cause error) error {
	alert := &models.NodeAlert{
		Node:       node,
		Severity:   models.SeverityCritical,
		Message:    fmt.Sprintf("Audio node %s is down and stopped reconnecting", node),
		OccurredAt: n.now(),
	}
	if cause != nil {
		alert.Error = cause.Error()
	}
	return n.Notify(ctx, alert)
}

func (n *Notifier) Notify(ctx context.Context, alert *models.NodeAlert) error {
	if len(n.channels) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []string

	for _, ch := range n.channels {
		wg.Add(1)
		go func(ch models.AlertChannel) {
			defer wg.Done()

			var err error
			switch ch.Type {
			case models.ChannelTypeDiscord:
				err = n.sendDiscord(ctx, ch, alert)
			case models.ChannelTypeWebhook:
				err = n.sendWebhook(ctx, ch, alert)
			case models.ChannelTypeNtfy:
				err = n.sendNtfy(ctx, ch, alert)
			default:
				err = fmt.Errorf("unknown channel type: %s", ch.Type)
			}
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Sprintf("%s: %v", ch.Name, err))
				mu.Unlock()
			}
		}(ch)
	}

	wg.Wait()

	if len(errs) > 0 {
		err := fmt.Errorf("notification errors: %s", strings.Join(errs, "; "))
		slog.Warn("node alert delivery failed", "node", alert.Node, "error", err)
		return err
	}
	return nil
}

func severityColor(s models.Severity) int {
	switch s {
	case models.SeverityCritical:
		return 0xFF0000
	case models.SeverityWarning:
		return 0xFFA500
	case models.SeverityInfo:
		return 0x0000FF
	}
	return 0x808080
}

func (n *Notifier) sendDiscord(ctx context.Context, ch models.AlertChannel, a *models.NodeAlert) error {
	fields := []map[string]any{
		{"name": "Node", "value": a.Node, "inline": true},
		{"name": "Severity", "value": string(a.Severity), "inline": true},
	}
	if a.Error != "" {
		fields = append(fields, map[string]any{"name": "Error", "value": a.Error})
	}
	payload := map[string]any{
		"embeds": []map[string]any{
			{
				"title":       "Audio node alert",
				"description": a.Message,
				"color":       severityColor(a.Severity),
				"fields":      fields,
				"timestamp":   a.OccurredAt.Format(time.RFC3339),
				"footer":      map[string]string{"text": "guildtunes"},
			},
		},
	}
	return n.postJSON(ctx, ch.URL, payload, nil)
}

func (n *Notifier) sendWebhook(ctx context.Context, ch models.AlertChannel, a *models.NodeAlert) error {
	payload := map[string]any{
		"event":       "node_down",
		"node":        a.Node,
		"severity":    a.Severity,
		"message":     a.Message,
		"error":       a.Error,
		"occurred_at": a.OccurredAt.Format(time.RFC3339),
	}
	var headers map[string]string
	if ch.Token != "" {
		headers = map[string]string{"Authorization": "Bearer " + ch.Token}
	}
	return n.postJSON(ctx, ch.URL, payload, headers)
}

// sendNtfy posts to a full topic URL such as https://ntfy.sh/guildtunes.
func (n *Notifier) sendNtfy(ctx context.Context, ch models.AlertChannel, a *models.NodeAlert) error {
	priority := "default"
	switch a.Severity {
	case models.SeverityCritical:
		priority = "urgent"
	case models.SeverityWarning:
		priority = "high"
	case models.SeverityInfo:
		priority = "low"
	}

	message := a.Message
	if a.Error != "" {
		message += "\n\n" + a.Error
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ch.URL, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Title", "guildtunes: node "+a.Node)
	req.Header.Set("Priority", priority)
	req.Header.Set("Tags", string(a.Severity))
	if ch.Token != "" {
		req.Header.Set("Authorization", "Bearer "+ch.Token)
	}
	return n.do(req, "ntfy")
}

func (n *Notifier) postJSON(ctx context.Context, url string, payload any, headers map[string]string) error {
	req, err := httputil.NewJSONRequest(ctx, http.MethodPost, url, payload)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return n.do(req, "server")
}

func (n *Notifier) do(req *http.Request, who string) error {
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	body, _ := httputil.ReadBody(resp)

	if resp.StatusCode >= 400 {
		if snippet := httputil.Snippet(body); snippet != "" {
			return fmt.Errorf("%s returned status %d: %s", who, resp.StatusCode, snippet)
		}
		return fmt.Errorf("%s returned status %d", who, resp.StatusCode)
	}
	return nil
}

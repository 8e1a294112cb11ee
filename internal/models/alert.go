package models

import (
	"fmt"
	"time"

	"guildtunes/internal/httputil"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type ChannelType string

const (
	ChannelTypeDiscord ChannelType = "discord"
	ChannelTypeWebhook ChannelType = "webhook"
	ChannelTypeNtfy    ChannelType = "ntfy"
)

// AlertChannel is one destination for operator alerts.
type AlertChannel struct {
	Name  string
	Type  ChannelType
	URL   string
	Token string
}

func (c AlertChannel) Validate() error {
	switch c.Type {
	case ChannelTypeDiscord, ChannelTypeWebhook, ChannelTypeNtfy:
	default:
		return fmt.Errorf("unknown channel type %q", c.Type)
	}
	if err := httputil.ValidateWebhookURL(c.URL); err != nil {
		return fmt.Errorf("%s: %w", c.Name, err)
	}
	return nil
}

// NodeAlert describes a node-level failure worth paging about.
type NodeAlert struct {
	Node       string    `json:"node"`
	Severity   Severity  `json:"severity"`
	Message    string    `json:"message"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

package messaging

import (
	"context"
)

// Broker defines the interface for message brokers
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

// Channels the delivery pipeline publishes on. Dashboards and the UI backend
// subscribe to these for live progress.
const (
	ChannelDeliverySent      = "delivery.sent"
	ChannelDeliveryFailed    = "delivery.failed"
	ChannelCampaignCompleted = "campaign.completed"
	ChannelCampaignCancelled = "campaign.cancelled"
)

// DeliveryEvent is the payload published after each entry resolves.
type DeliveryEvent struct {
	EntryID    string `json:"entry_id"`
	TenantID   string `json:"tenant_id"`
	Kind       string `json:"kind"`
	CampaignID string `json:"campaign_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CampaignEvent is the payload published on campaign completion/cancellation.
type CampaignEvent struct {
	CampaignID string `json:"campaign_id"`
	TenantID   string `json:"tenant_id"`
	Sent       int    `json:"sent"`
	Failed     int    `json:"failed"`
	Total      int    `json:"total"`
}

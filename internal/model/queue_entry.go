package model

import (
	"time"

	"github.com/google/uuid"
)

type EntryStatus string

const (
	EntryStatusPending    EntryStatus = "pending"
	EntryStatusProcessing EntryStatus = "processing"
	EntryStatusSent       EntryStatus = "sent"
	EntryStatusFailed     EntryStatus = "failed"
	EntryStatusCancelled  EntryStatus = "cancelled"
)

type EntryKind string

const (
	EntryKindLessonSummary  EntryKind = "lesson_summary"
	EntryKindPersonalReport EntryKind = "personal_report"
	EntryKindBroadcast      EntryKind = "broadcast"
)

type RecipientKind string

const (
	RecipientKindGroup  RecipientKind = "group"
	RecipientKindDirect RecipientKind = "direct"
)

// QueueEntry is one unit of outbound content tracked through the delivery
// lifecycle: pending -> processing -> sent|failed, with cancelled reachable
// from pending only (campaign cancellation).
type QueueEntry struct {
	ID                uuid.UUID     `db:"id" json:"id"`
	TenantID          uuid.UUID     `db:"tenant_id" json:"tenant_id"`
	Kind              EntryKind     `db:"kind" json:"kind"`
	RecipientKind     RecipientKind `db:"recipient_kind" json:"recipient_kind"`
	RecipientAddress  string        `db:"recipient_address" json:"recipient_address"`
	Body              string        `db:"body" json:"body"`
	AttachmentURL     *string       `db:"attachment_url" json:"attachment_url,omitempty"`
	ScheduledAt       time.Time     `db:"scheduled_at" json:"scheduled_at"`
	Status            EntryStatus   `db:"status" json:"status"`
	Attempts          int           `db:"attempts" json:"attempts"`
	LastError         *string       `db:"last_error" json:"last_error,omitempty"`
	SentAt            *time.Time    `db:"sent_at" json:"sent_at,omitempty"`
	ExternalMessageID *string       `db:"external_message_id" json:"external_message_id,omitempty"`
	CampaignID        *uuid.UUID    `db:"campaign_id" json:"campaign_id,omitempty"`
	ContentID         *uuid.UUID    `db:"content_id" json:"content_id,omitempty"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updated_at"`
}

// TenantQueueStats is the read-only aggregate exposed for monitoring.
type TenantQueueStats struct {
	TenantID   uuid.UUID `db:"tenant_id" json:"tenant_id"`
	Pending    int       `db:"pending" json:"pending"`
	Processing int       `db:"processing" json:"processing"`
	Sent       int       `db:"sent" json:"sent"`
	Failed     int       `db:"failed" json:"failed"`
	Cancelled  int       `db:"cancelled" json:"cancelled"`
}

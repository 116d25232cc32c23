package model

import (
	"time"

	"github.com/google/uuid"
)

// ReportContent is a generated lesson summary or personal report awaiting
// delivery. The content rows are owned by the generation side of the system;
// the delivery core only claims them for queuing and writes delivery errors
// back for UI visibility.
type ReportContent struct {
	ID               uuid.UUID     `db:"id" json:"id"`
	TenantID         uuid.UUID     `db:"tenant_id" json:"tenant_id"`
	Kind             EntryKind     `db:"kind" json:"kind"`
	RecipientKind    RecipientKind `db:"recipient_kind" json:"recipient_kind"`
	RecipientAddress string        `db:"recipient_address" json:"recipient_address"`
	Body             string        `db:"body" json:"body"`
	AttachmentURL    *string       `db:"attachment_url" json:"attachment_url,omitempty"`
	ScheduledAt      time.Time     `db:"scheduled_at" json:"scheduled_at"`
	Ready            bool          `db:"ready" json:"ready"`
	Queued           bool          `db:"queued" json:"queued"`
	LastError        *string       `db:"last_error" json:"last_error,omitempty"`
	CreatedAt        time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time     `db:"updated_at" json:"updated_at"`
}

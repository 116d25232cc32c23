package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type CampaignStatus string

const (
	CampaignStatusPending    CampaignStatus = "pending"
	CampaignStatusScheduled  CampaignStatus = "scheduled"
	CampaignStatusInProgress CampaignStatus = "in_progress"
	CampaignStatusCompleted  CampaignStatus = "completed"
	CampaignStatusCancelled  CampaignStatus = "cancelled"
)

// Terminal reports whether a campaign status can never change again.
func (s CampaignStatus) Terminal() bool {
	return s == CampaignStatusCompleted || s == CampaignStatusCancelled
}

type TargetKind string

const (
	TargetKindAllGroups      TargetKind = "all_groups"
	TargetKindSelectedGroups TargetKind = "selected_groups"
)

// MessageVariant is one of several interchangeable message bodies rotated
// across a campaign's recipients.
type MessageVariant struct {
	Text          string  `json:"text"`
	AttachmentURL *string `json:"attachment_url,omitempty"`
}

// VariantList is stored as a JSONB column.
type VariantList []MessageVariant

func (v VariantList) Value() (driver.Value, error) {
	return json.Marshal(v)
}

func (v *VariantList) Scan(src interface{}) error {
	switch data := src.(type) {
	case []byte:
		return json.Unmarshal(data, v)
	case string:
		return json.Unmarshal([]byte(data), v)
	case nil:
		*v = nil
		return nil
	default:
		return fmt.Errorf("unsupported variant list type %T", src)
	}
}

// BroadcastCampaign fans a message out to many recipients as queue entries
// and tracks aggregate progress. totalRecipients is fixed at start;
// sent_count + failed_count never exceeds it.
type BroadcastCampaign struct {
	ID              uuid.UUID      `db:"id" json:"id"`
	TenantID        uuid.UUID      `db:"tenant_id" json:"tenant_id"`
	Name            string         `db:"name" json:"name"`
	Variants        VariantList    `db:"variants" json:"variants"`
	TargetKind      TargetKind     `db:"target_kind" json:"target_kind"`
	TargetAddresses pq.StringArray `db:"target_addresses" json:"target_addresses,omitempty"`
	Status          CampaignStatus `db:"status" json:"status"`
	ScheduledFor    *time.Time     `db:"scheduled_for" json:"scheduled_for,omitempty"`
	TotalRecipients int            `db:"total_recipients" json:"total_recipients"`
	SentCount       int            `db:"sent_count" json:"sent_count"`
	FailedCount     int            `db:"failed_count" json:"failed_count"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

// VariantFor returns the variant assigned to recipient i (round-robin).
func (c *BroadcastCampaign) VariantFor(i int) MessageVariant {
	return c.Variants[i%len(c.Variants)]
}

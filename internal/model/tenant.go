package model

import (
	"time"

	"github.com/google/uuid"
)

// TenantLimits is the per-tenant send pacing configuration. Owned by tenant
// configuration and read-only to the delivery core.
type TenantLimits struct {
	MaxPerHour      int  `db:"max_per_hour" json:"max_per_hour"`
	MaxPerMinute    int  `db:"max_per_minute" json:"max_per_minute"`
	MinDelaySeconds int  `db:"min_delay_seconds" json:"min_delay_seconds"`
	MaxDelaySeconds int  `db:"max_delay_seconds" json:"max_delay_seconds"`
	QuietStartHour  *int `db:"quiet_start_hour" json:"quiet_start_hour,omitempty"`
	QuietEndHour    *int `db:"quiet_end_hour" json:"quiet_end_hour,omitempty"`
}

// Tenant is an independent school whose traffic, limits and gateway
// credentials are isolated from others.
type Tenant struct {
	ID       uuid.UUID `db:"id" json:"id"`
	Name     string    `db:"name" json:"name"`
	Timezone string    `db:"timezone" json:"timezone"`
	Active   bool      `db:"active" json:"active"`

	MaxPerHour      int  `db:"max_per_hour" json:"max_per_hour"`
	MaxPerMinute    int  `db:"max_per_minute" json:"max_per_minute"`
	MinDelaySeconds int  `db:"min_delay_seconds" json:"min_delay_seconds"`
	MaxDelaySeconds int  `db:"max_delay_seconds" json:"max_delay_seconds"`
	QuietStartHour  *int `db:"quiet_start_hour" json:"quiet_start_hour,omitempty"`
	QuietEndHour    *int `db:"quiet_end_hour" json:"quiet_end_hour,omitempty"`

	GatewayBaseURL string `db:"gateway_base_url" json:"-"`
	GatewayToken   string `db:"gateway_token" json:"-"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (t *Tenant) Limits() TenantLimits {
	return TenantLimits{
		MaxPerHour:      t.MaxPerHour,
		MaxPerMinute:    t.MaxPerMinute,
		MinDelaySeconds: t.MinDelaySeconds,
		MaxDelaySeconds: t.MaxDelaySeconds,
		QuietStartHour:  t.QuietStartHour,
		QuietEndHour:    t.QuietEndHour,
	}
}

// Location resolves the tenant timezone, falling back to UTC.
func (t *Tenant) Location() *time.Location {
	if t.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/classpilot/school-api/internal/model"
	"github.com/classpilot/school-api/internal/repository"
)

type tenantRepository struct {
	db *sqlx.DB
}

func NewTenantRepository(db *sqlx.DB) repository.TenantRepository {
	return &tenantRepository{db: db}
}

const tenantColumns = `
	id, name, timezone, active, max_per_hour, max_per_minute,
	min_delay_seconds, max_delay_seconds, quiet_start_hour, quiet_end_hour,
	gateway_base_url, gateway_token, created_at, updated_at`

func (r *tenantRepository) Get(ctx context.Context, id uuid.UUID) (*model.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1`

	var tenant model.Tenant
	if err := r.db.GetContext(ctx, &tenant, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return &tenant, nil
}

func (r *tenantRepository) ListActive(ctx context.Context) ([]*model.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE active = TRUE ORDER BY name`

	var tenants []*model.Tenant
	if err := r.db.SelectContext(ctx, &tenants, query); err != nil {
		return nil, fmt.Errorf("failed to list active tenants: %w", err)
	}
	return tenants, nil
}

// SPDX-License-Identifier: AGPL-3.0-or-later
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/btouchard/mailrelay/internal/domain/models"
)

// foreignKeyViolation is the Postgres SQLSTATE for a referential integrity
// violation, used to translate RESTRICT-on-delete failures into the
// domain's typed errors instead of a raw driver error.
const foreignKeyViolation = "23503"

// TenantRepository persists Tenant rows: tenancy boundary, owner of
// Accounts and Messages (delete is RESTRICTed if either exist).
type TenantRepository struct {
	db *sql.DB
}

func NewTenantRepository(db *sql.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// Upsert creates or updates a tenant by id.
func (r *TenantRepository) Upsert(ctx context.Context, t models.Tenant) error {
	q := `
		INSERT INTO tenants (id, name, active, client_base_url, client_sync_path, auth_method, auth_token, auth_user, auth_password)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			active = EXCLUDED.active,
			client_base_url = EXCLUDED.client_base_url,
			client_sync_path = EXCLUDED.client_sync_path,
			auth_method = EXCLUDED.auth_method,
			auth_token = EXCLUDED.auth_token,
			auth_user = EXCLUDED.auth_user,
			auth_password = EXCLUDED.auth_password
	`
	_, err := r.db.ExecContext(ctx, q,
		t.ID, t.Name, t.Active, t.ClientBaseURL, t.ClientSyncPath,
		string(t.ClientAuth.Method), t.ClientAuth.Token, t.ClientAuth.User, t.ClientAuth.Password,
	)
	if err != nil {
		return fmt.Errorf("upsert tenant %s: %w", t.ID, err)
	}
	return nil
}

func (r *TenantRepository) Get(ctx context.Context, id string) (*models.Tenant, error) {
	q := `
		SELECT id, name, active, client_base_url, client_sync_path, auth_method, auth_token, auth_user, auth_password
		FROM tenants WHERE id = $1
	`
	var t models.Tenant
	var method string
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&t.ID, &t.Name, &t.Active, &t.ClientBaseURL, &t.ClientSyncPath,
		&method, &t.ClientAuth.Token, &t.ClientAuth.User, &t.ClientAuth.Password,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant %s: %w", id, err)
	}
	t.ClientAuth.Method = models.AuthMethod(method)
	return &t, nil
}

// ListActive returns every tenant with active=true, used by the report
// synchronizer's starvation-prevention sweep (spec.md §4.6 step 3).
func (r *TenantRepository) ListActive(ctx context.Context) ([]models.Tenant, error) {
	q := `
		SELECT id, name, active, client_base_url, client_sync_path, auth_method, auth_token, auth_user, auth_password
		FROM tenants WHERE active = true ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list active tenants: %w", err)
	}
	defer rows.Close()

	var out []models.Tenant
	for rows.Next() {
		var t models.Tenant
		var method string
		if err := rows.Scan(&t.ID, &t.Name, &t.Active, &t.ClientBaseURL, &t.ClientSyncPath,
			&method, &t.ClientAuth.Token, &t.ClientAuth.User, &t.ClientAuth.Password); err != nil {
			return nil, fmt.Errorf("scan tenant row: %w", err)
		}
		t.ClientAuth.Method = models.AuthMethod(method)
		out = append(out, t)
	}
	return out, rows.Err()
}

// List returns every tenant regardless of active state, for the admin
// API's tenant listing endpoint.
func (r *TenantRepository) List(ctx context.Context) ([]models.Tenant, error) {
	q := `
		SELECT id, name, active, client_base_url, client_sync_path, auth_method, auth_token, auth_user, auth_password
		FROM tenants ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var out []models.Tenant
	for rows.Next() {
		var t models.Tenant
		var method string
		if err := rows.Scan(&t.ID, &t.Name, &t.Active, &t.ClientBaseURL, &t.ClientSyncPath,
			&method, &t.ClientAuth.Token, &t.ClientAuth.User, &t.ClientAuth.Password); err != nil {
			return nil, fmt.Errorf("scan tenant row: %w", err)
		}
		t.ClientAuth.Method = models.AuthMethod(method)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Delete removes a tenant, RESTRICTed by foreign keys if accounts or
// messages still reference it (spec.md §3 Ownership).
func (r *TenantRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
			if pqErr.Constraint != "" && pqErr.Table == "messages" {
				return models.ErrTenantHasMessages
			}
			return models.ErrTenantHasAccounts
		}
		return fmt.Errorf("delete tenant %s: %w", id, err)
	}
	return nil
}

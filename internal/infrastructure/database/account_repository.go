// SPDX-License-Identifier: AGPL-3.0-or-later
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/btouchard/mailrelay/internal/domain/models"
	"github.com/btouchard/mailrelay/internal/infrastructure/secrets"
)

// AccountRepository persists Account rows, keyed internally by pk and
// externally by the (tenant_id, id) pair the spec requires upserts to
// respect (spec.md §3: "no cross-tenant collision").
type AccountRepository struct {
	db      *sql.DB
	secrets secrets.Provider
}

func NewAccountRepository(db *sql.DB, secretsProvider secrets.Provider) *AccountRepository {
	return &AccountRepository{db: db, secrets: secretsProvider}
}

// Upsert creates or updates an account by (tenant_id, id). Password is
// encrypted before it ever reaches the database.
func (r *AccountRepository) Upsert(ctx context.Context, a models.Account) (string, error) {
	if err := a.Validate(); err != nil {
		return "", err
	}

	var encPassword []byte
	if a.Password != "" {
		enc, err := r.secrets.Encrypt(a.Password)
		if err != nil {
			return "", fmt.Errorf("encrypt account password: %w", err)
		}
		encPassword = enc
	}

	pk := a.PK
	if pk == "" {
		pk = uuid.NewString()
	}

	q := `
		INSERT INTO accounts (
			pk, tenant_id, account_id, host, port, "user", password, use_tls,
			ttl_seconds, batch_size, limit_per_minute, limit_per_hour, limit_per_day, limit_behavior
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (tenant_id, account_id) DO UPDATE SET
			host = EXCLUDED.host,
			port = EXCLUDED.port,
			"user" = EXCLUDED."user",
			password = CASE WHEN EXCLUDED.password IS NOT NULL THEN EXCLUDED.password ELSE accounts.password END,
			use_tls = EXCLUDED.use_tls,
			ttl_seconds = EXCLUDED.ttl_seconds,
			batch_size = EXCLUDED.batch_size,
			limit_per_minute = EXCLUDED.limit_per_minute,
			limit_per_hour = EXCLUDED.limit_per_hour,
			limit_per_day = EXCLUDED.limit_per_day,
			limit_behavior = EXCLUDED.limit_behavior
		RETURNING pk
	`
	var returnedPK string
	err := r.db.QueryRowContext(ctx, q,
		pk, a.TenantID, a.ID, a.Host, a.Port, nullIfEmpty(a.User), encPassword, a.UseTLS,
		a.TTLSeconds, a.BatchSize, a.LimitPerMinute, a.LimitPerHour, a.LimitPerDay, string(a.LimitBehavior),
	).Scan(&returnedPK)
	if err != nil {
		return "", fmt.Errorf("upsert account %s/%s: %w", a.TenantID, a.ID, err)
	}
	return returnedPK, nil
}

func (r *AccountRepository) Get(ctx context.Context, tenantID, accountID string) (*models.Account, error) {
	q := `
		SELECT pk, tenant_id, account_id, host, port, COALESCE("user",''), password, use_tls,
		       ttl_seconds, batch_size, limit_per_minute, limit_per_hour, limit_per_day, limit_behavior
		FROM accounts WHERE tenant_id = $1 AND account_id = $2
	`
	a, encPassword, err := r.scanAccount(r.db.QueryRowContext(ctx, q, tenantID, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s/%s: %w", tenantID, accountID, err)
	}
	if len(encPassword) > 0 {
		plain, err := r.secrets.Decrypt(encPassword)
		if err != nil {
			return nil, fmt.Errorf("decrypt account password: %w", err)
		}
		a.Password = plain
	}
	return a, nil
}

func (r *AccountRepository) scanAccount(row *sql.Row) (*models.Account, []byte, error) {
	var a models.Account
	var encPassword []byte
	var limitBehavior string
	err := row.Scan(
		&a.PK, &a.TenantID, &a.ID, &a.Host, &a.Port, &a.User, &encPassword, &a.UseTLS,
		&a.TTLSeconds, &a.BatchSize, &a.LimitPerMinute, &a.LimitPerHour, &a.LimitPerDay, &limitBehavior,
	)
	a.LimitBehavior = models.LimitBehavior(limitBehavior)
	return &a, encPassword, err
}

// ListByTenant returns every account owned by tenantID, passwords
// decrypted, for the admin API's account listing endpoint.
func (r *AccountRepository) ListByTenant(ctx context.Context, tenantID string) ([]models.Account, error) {
	q := `
		SELECT pk, tenant_id, account_id, host, port, COALESCE("user",''), password, use_tls,
		       ttl_seconds, batch_size, limit_per_minute, limit_per_hour, limit_per_day, limit_behavior
		FROM accounts WHERE tenant_id = $1 ORDER BY account_id
	`
	rows, err := r.db.QueryContext(ctx, q, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list accounts for tenant %s: %w", tenantID, err)
	}
	defer rows.Close()

	var out []models.Account
	for rows.Next() {
		var a models.Account
		var encPassword []byte
		var limitBehavior string
		if err := rows.Scan(&a.PK, &a.TenantID, &a.ID, &a.Host, &a.Port, &a.User, &encPassword, &a.UseTLS,
			&a.TTLSeconds, &a.BatchSize, &a.LimitPerMinute, &a.LimitPerHour, &a.LimitPerDay, &limitBehavior); err != nil {
			return nil, fmt.Errorf("scan account row: %w", err)
		}
		a.LimitBehavior = models.LimitBehavior(limitBehavior)
		if len(encPassword) > 0 {
			plain, err := r.secrets.Decrypt(encPassword)
			if err != nil {
				return nil, fmt.Errorf("decrypt account password for %s/%s: %w", a.TenantID, a.ID, err)
			}
			a.Password = plain
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *AccountRepository) Delete(ctx context.Context, tenantID, accountID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE tenant_id = $1 AND account_id = $2`, tenantID, accountID)
	if err != nil {
		return fmt.Errorf("delete account %s/%s: %w", tenantID, accountID, err)
	}
	return nil
}

// LogSend appends one SendLog row, used to derive sliding-window rate
// counts. One row per successful send (spec.md §3 SendLog).
func (r *AccountRepository) LogSend(ctx context.Context, accountPK string, ts time.Time) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO account_sends (account_pk, ts) VALUES ($1, $2)`, accountPK, ts)
	if err != nil {
		return fmt.Errorf("log send for account %s: %w", accountPK, err)
	}
	return nil
}

// LogSendTx is LogSend run against an existing transaction, so a caller
// can combine it with a message-state write (spec.md §5 "Shared
// resources": mark_sent and log_send commit together or not at all).
func (r *AccountRepository) LogSendTx(ctx context.Context, tx *sql.Tx, accountPK string, ts time.Time) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO account_sends (account_pk, ts) VALUES ($1, $2)`, accountPK, ts)
	if err != nil {
		return fmt.Errorf("log send for account %s: %w", accountPK, err)
	}
	return nil
}

// CountSendsSince counts SendLog rows for accountPK with ts >= epoch,
// the sole input to ratelimit.Limiter.Check (spec.md §4.2).
func (r *AccountRepository) CountSendsSince(ctx context.Context, accountPK string, epoch time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM account_sends WHERE account_pk = $1 AND ts >= $2`,
		accountPK, epoch,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count sends since %s for account %s: %w", epoch, accountPK, err)
	}
	return count, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

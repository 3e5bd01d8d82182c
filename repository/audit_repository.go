package repository

import (
	"context"
	"database/sql"
	"secure-ledger/audit"
	"secure-ledger/logger"
	"sync"

	"github.com/sirupsen/logrus"
)

// AuditRepository is an audit sink backed by the INSERT-only audit_log table.
type AuditRepository struct {
	DB *sql.DB
	mu sync.Mutex
}

var _ audit.Sink = (*AuditRepository)(nil)

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{DB: db}
}

// Append inserts one record. Appends are serialised so ids follow call order.
func (r *AuditRepository) Append(ctx context.Context, rec audit.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var amount sql.NullFloat64
	if rec.Amount != nil {
		amount = sql.NullFloat64{Float64: *rec.Amount, Valid: true}
	}
	var approved sql.NullBool
	if rec.Approved != nil {
		approved = sql.NullBool{Bool: *rec.Approved, Valid: true}
	}

	query := `INSERT INTO audit_log
		(recorded_at, kind, actor, account_no, account_holder, amount, reason, operation, approved, detail, device, app_metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.DB.ExecContext(ctx, query,
		rec.Timestamp, string(rec.Kind), rec.Actor, rec.AccountNo, rec.AccountHolder,
		amount, rec.Reason, rec.Operation, approved, rec.Detail, rec.Device, rec.AppMetadata)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{
			"audit_kind": rec.Kind,
			"actor":      rec.Actor,
		}).WithError(err).Error("Failed to execute insert audit record query")
		return err
	}
	return nil
}

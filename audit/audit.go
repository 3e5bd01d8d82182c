// Package audit writes attributable, append-only records of every sensitive
// action to an external sink.
package audit

import (
	"context"
	"secure-ledger/common"
	"secure-ledger/logger"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

type Kind string

const (
	KindAccountCreation  Kind = "account_creation"
	KindBalanceQuery     Kind = "balance_query"
	KindAccountClosure   Kind = "account_closure"
	KindLodgement        Kind = "lodgement"
	KindWithdrawal       Kind = "withdrawal"
	KindAuthSuccess      Kind = "auth_success"
	KindAuthFailure      Kind = "auth_failure"
	KindApprovalDecision Kind = "approval_decision"
	KindApplicationError Kind = "application_error"
	KindUserProvisioning Kind = "user_provisioning"
)

// Monetary reports whether records of this kind are subject to the
// materiality rule.
func (k Kind) Monetary() bool {
	return k == KindLodgement || k == KindWithdrawal
}

// Record is a single audit entry. Device, AppMetadata and Timestamp are
// stamped by the Trail.
type Record struct {
	Timestamp     time.Time `json:"timestamp"`
	Kind          Kind      `json:"kind"`
	Actor         string    `json:"actor"`
	AccountNo     string    `json:"account_no,omitempty"`
	AccountHolder string    `json:"account_holder,omitempty"`
	Amount        *float64  `json:"amount,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	Operation     string    `json:"operation,omitempty"`
	Approved      *bool     `json:"approved,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	Device        string    `json:"device"`
	AppMetadata   string    `json:"app_metadata"`
}

// Amount and Decision build the optional fields of a Record.
func Amount(v float64) *float64 { return &v }
func Decision(v bool) *bool     { return &v }

// Sink is the external append-only destination. Append must either persist
// the record in order or return an error.
type Sink interface {
	Append(ctx context.Context, rec Record) error
}

// Policy holds the audit rules that callers must honour.
type Policy struct {
	MaterialityThreshold float64
	FailClosed           bool
}

// RequiresJustification reports whether an amount is above the materiality
// threshold.
func (p Policy) RequiresJustification(amount float64) bool {
	return amount > p.MaterialityThreshold
}

// Trail stamps records with time, origin and integrity metadata and writes
// them to a Sink.
type Trail struct {
	sink        Sink
	policy      Policy
	now         func() time.Time
	device      string
	appMetadata string
}

type Option func(*Trail)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Trail) { t.now = now }
}

// WithFingerprint overrides the device and application metadata.
func WithFingerprint(device, appMetadata string) Option {
	return func(t *Trail) {
		t.device = device
		t.appMetadata = appMetadata
	}
}

func NewTrail(sink Sink, policy Policy, opts ...Option) *Trail {
	t := &Trail{
		sink:        sink,
		policy:      policy,
		now:         time.Now,
		device:      DeviceInfo(),
		appMetadata: AppMetadata(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Trail) Policy() Policy {
	return t.policy
}

func (t *Trail) RequiresJustification(amount float64) bool {
	return t.policy.RequiresJustification(amount)
}

// Record writes rec. A monetary record above the threshold with no reason
// is refused with ErrJustificationRequired and nothing is written. Below the
// threshold any reason is dropped.
//
// A sink failure is reported on the operator console. It is returned to the
// caller only when the policy is fail-closed.
func (t *Trail) Record(ctx context.Context, rec Record) error {
	if rec.Kind.Monetary() {
		if rec.Amount != nil && t.policy.RequiresJustification(*rec.Amount) {
			if strings.TrimSpace(rec.Reason) == "" {
				return common.NewAppError(common.KindJustificationRequired, "a reason is required for amounts above the materiality threshold", nil)
			}
		} else {
			rec.Reason = ""
		}
	}

	rec.Timestamp = t.now().UTC()
	rec.Device = t.device
	rec.AppMetadata = t.appMetadata

	log := logger.Log.WithFields(logrus.Fields{
		"audit_kind": rec.Kind,
		"actor":      rec.Actor,
		"account_no": rec.AccountNo,
	})

	if err := t.sink.Append(ctx, rec); err != nil {
		log.WithError(err).Error("Audit record could not be written")
		if t.policy.FailClosed {
			return common.NewPersistenceError("audit record could not be written", err)
		}
		return nil
	}

	log.Debug("Audit record written")
	return nil
}

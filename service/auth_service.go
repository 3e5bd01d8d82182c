package service

import (
	"context"
	"errors"
	"fmt"
	"secure-ledger/audit"
	"secure-ledger/common"
	"secure-ledger/logger"
	"secure-ledger/model"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Operation names an action gated by dual control.
type Operation string

const (
	OpCloseAccount Operation = "close_account"
	OpAddUser      Operation = "add_user"
)

// Reason codes carried by auth_failure and denied approval_decision records.
const (
	ReasonEmptyCredentials   = "empty_credentials"
	ReasonInvalidCredentials = "invalid_credentials"
	ReasonNotInOperatorGroup = "not_in_operator_group"
	ReasonNotInAdminGroup    = "not_in_admin_group"
	ReasonProviderError      = "provider_error"
	ReasonMaxAttempts        = "max_attempts_exceeded"
	ReasonInvalidTicket      = "invalid_ticket"
	ReasonTicketExpired      = "ticket_expired"
	ReasonSelfApproval       = "self_approval"
	ReasonPromptCancelled    = "prompt_cancelled"
)

var (
	ErrAuthenticationFailed = common.NewAppError(common.KindAuth, "authentication failed", nil)
	ErrApprovalDenied       = common.NewAppError(common.KindAuthorizationDenied, "approval denied", nil)
)

// Session is an authenticated operator. Its privilege is fixed when it is
// created.
type Session struct {
	username        string
	privileged      bool
	authenticatedAt time.Time
}

func (s *Session) Username() string           { return s.username }
func (s *Session) Privileged() bool           { return s.privileged }
func (s *Session) AuthenticatedAt() time.Time { return s.authenticatedAt }

// Approval is proof that a gated operation was authorized.
type Approval struct {
	Operation Operation
	Requester string
	Approver  string
	GrantedAt time.Time
}

// PendingApproval is a request for a privileged identity to approve an
// operation. It carries a signed ticket that expires after the configured TTL.
// A request from a privileged session is granted on creation.
type PendingApproval struct {
	Operation Operation
	Requester string
	ExpiresAt time.Time
	ticket    string
	granted   *Approval
}

// Granted returns the approval when no second identity is needed.
func (p *PendingApproval) Granted() (*Approval, bool) {
	return p.granted, p.granted != nil
}

// CredentialPrompt collects the approving identity's credentials for a
// pending approval.
type CredentialPrompt func(ctx context.Context, pending *PendingApproval) (username, secret string, err error)

type approvalClaims struct {
	Operation Operation `json:"op"`
	jwt.RegisteredClaims
}

// AuthConfig holds the gate's group names and ticket settings.
type AuthConfig struct {
	OperatorGroup string
	AdminGroup    string
	ApprovalTTL   time.Duration
	TicketKey     []byte
}

// AuthService authenticates operators and enforces dual control.
type AuthService struct {
	provider IdentityProvider
	trail    *audit.Trail
	cfg      AuthConfig
	now      func() time.Time
}

func NewAuthService(provider IdentityProvider, trail *audit.Trail, cfg AuthConfig) *AuthService {
	return &AuthService{
		provider: provider,
		trail:    trail,
		cfg:      cfg,
		now:      time.Now,
	}
}

// verify checks a credential pair and returns the identity, or the reason
// code for the failure.
func (s *AuthService) verify(ctx context.Context, username, secret string) (*model.Identity, string) {
	if username == "" || secret == "" {
		return nil, ReasonEmptyCredentials
	}
	identity, err := s.provider.Verify(ctx, username, secret)
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return nil, ReasonInvalidCredentials
	case err != nil:
		logger.Log.WithError(err).WithField("username", username).Error("Identity provider failed")
		return nil, ReasonProviderError
	case identity == nil:
		return nil, ReasonProviderError
	}
	return identity, ""
}

// Authenticate verifies the operator. Every attempt is audited; a failure
// never reveals which factor was wrong.
func (s *AuthService) Authenticate(ctx context.Context, username, secret string) (*Session, error) {
	username = common.Sanitise(username)
	log := logger.Log.WithField("username", username)

	identity, reason := s.verify(ctx, username, secret)
	if identity != nil && !identity.MemberOf(s.cfg.OperatorGroup) {
		identity, reason = nil, ReasonNotInOperatorGroup
	}
	if identity == nil {
		log.WithField("reason", reason).Warn("Authentication failed")
		auditErr := s.trail.Record(ctx, audit.Record{
			Kind:   audit.KindAuthFailure,
			Actor:  actorOrUnknown(username),
			Detail: reason,
		})
		return nil, errors.Join(ErrAuthenticationFailed, auditErr)
	}

	session := &Session{
		username:        identity.Username,
		privileged:      identity.MemberOf(s.cfg.AdminGroup),
		authenticatedAt: s.now(),
	}
	if err := s.trail.Record(ctx, audit.Record{Kind: audit.KindAuthSuccess, Actor: session.username}); err != nil {
		return nil, err
	}

	log.WithField("privileged", session.privileged).Info("Operator authenticated")
	return session, nil
}

// RecordLockout audits a login loop that ran out of attempts.
func (s *AuthService) RecordLockout(ctx context.Context, username string) error {
	return s.trail.Record(ctx, audit.Record{
		Kind:   audit.KindAuthFailure,
		Actor:  actorOrUnknown(common.Sanitise(username)),
		Detail: ReasonMaxAttempts,
	})
}

// RequestApproval starts the approval of op for the session's operator. A
// privileged session is approved immediately and the decision recorded.
func (s *AuthService) RequestApproval(ctx context.Context, session *Session, op Operation) (*PendingApproval, error) {
	if session == nil {
		return nil, ErrAuthenticationFailed
	}

	now := s.now()
	if session.privileged {
		approval := &Approval{Operation: op, Requester: session.username, Approver: session.username, GrantedAt: now}
		if err := s.recordDecision(ctx, session.username, op, true, "privileged operator"); err != nil {
			return nil, err
		}
		return &PendingApproval{Operation: op, Requester: session.username, ExpiresAt: now, granted: approval}, nil
	}

	expires := now.Add(s.cfg.ApprovalTTL)
	claims := approvalClaims{
		Operation: op,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   session.username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	ticket, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.TicketKey)
	if err != nil {
		logger.Log.WithError(err).Error("Failed to sign approval ticket")
		return nil, fmt.Errorf("failed to sign approval ticket: %w", err)
	}

	logger.Log.WithFields(logrus.Fields{
		"operation": op,
		"requester": session.username,
	}).Info("Approval requested")
	return &PendingApproval{Operation: op, Requester: session.username, ExpiresAt: expires, ticket: ticket}, nil
}

// Approve validates the approving identity's credentials against the pending
// ticket. Only a privileged identity other than the requester can grant.
func (s *AuthService) Approve(ctx context.Context, pending *PendingApproval, username, secret string) (*Approval, error) {
	if pending == nil {
		return nil, ErrApprovalDenied
	}
	if approval, ok := pending.Granted(); ok {
		return approval, nil
	}
	username = common.Sanitise(username)

	if reason := s.checkTicket(pending); reason != "" {
		return nil, s.deny(ctx, username, pending.Operation, reason)
	}

	identity, reason := s.verify(ctx, username, secret)
	if identity == nil {
		return nil, s.deny(ctx, username, pending.Operation, reason)
	}
	if !identity.MemberOf(s.cfg.AdminGroup) {
		return nil, s.deny(ctx, identity.Username, pending.Operation, ReasonNotInAdminGroup)
	}
	if identity.Username == pending.Requester {
		return nil, s.deny(ctx, identity.Username, pending.Operation, ReasonSelfApproval)
	}

	if err := s.recordDecision(ctx, identity.Username, pending.Operation, true, "requested by "+pending.Requester); err != nil {
		return nil, err
	}
	return &Approval{
		Operation: pending.Operation,
		Requester: pending.Requester,
		Approver:  identity.Username,
		GrantedAt: s.now(),
	}, nil
}

// Authorize requests approval and, when the session is not privileged, asks
// prompt for a second identity.
func (s *AuthService) Authorize(ctx context.Context, session *Session, op Operation, prompt CredentialPrompt) (*Approval, error) {
	pending, err := s.RequestApproval(ctx, session, op)
	if err != nil {
		return nil, err
	}
	if approval, ok := pending.Granted(); ok {
		return approval, nil
	}
	if prompt == nil {
		return nil, s.deny(ctx, session.username, op, ReasonPromptCancelled)
	}

	username, secret, err := prompt(ctx, pending)
	if err != nil {
		logger.Log.WithError(err).WithField("operation", op).Warn("Approval prompt failed")
		return nil, s.deny(ctx, session.username, op, ReasonPromptCancelled)
	}
	return s.Approve(ctx, pending, username, secret)
}

func (s *AuthService) checkTicket(pending *PendingApproval) string {
	claims := &approvalClaims{}
	_, err := jwt.ParseWithClaims(pending.ticket, claims, func(*jwt.Token) (interface{}, error) {
		return s.cfg.TicketKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ReasonTicketExpired
	case err != nil:
		return ReasonInvalidTicket
	case claims.Operation != pending.Operation || claims.Subject != pending.Requester:
		return ReasonInvalidTicket
	}
	return ""
}

func (s *AuthService) deny(ctx context.Context, actor string, op Operation, reason string) error {
	logger.Log.WithFields(logrus.Fields{
		"operation": op,
		"actor":     actor,
		"reason":    reason,
	}).Warn("Approval denied")
	return errors.Join(ErrApprovalDenied, s.recordDecision(ctx, actorOrUnknown(actor), op, false, reason))
}

func (s *AuthService) recordDecision(ctx context.Context, actor string, op Operation, approved bool, detail string) error {
	return s.trail.Record(ctx, audit.Record{
		Kind:      audit.KindApprovalDecision,
		Actor:     actor,
		Operation: string(op),
		Approved:  audit.Decision(approved),
		Detail:    detail,
	})
}

func actorOrUnknown(username string) string {
	if username == "" {
		return "unknown"
	}
	return username
}

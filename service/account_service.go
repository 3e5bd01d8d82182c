package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"secure-ledger/audit"
	"secure-ledger/common"
	"secure-ledger/logger"
	"secure-ledger/model"
	"secure-ledger/repository"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrAccountNotFound   = common.NewAppError(common.KindNotFound, "account not found", nil)
	ErrInsufficientFunds = common.NewAppError(common.KindInsufficientFunds, "insufficient funds", nil)
	ErrInvalidAmount     = common.NewValidationError(fmt.Sprintf("amount must be between 0 and %d", common.MaxAmount), nil)
	ErrInvalidAccountNo  = common.NewValidationError("invalid account number", nil)
)

// systemActor attributes records written outside an operator session.
const systemActor = "system"

// FieldCipher encrypts the PII columns of a row.
type FieldCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(opaque string) (string, error)
}

// Authorizer is the dual-control gate consulted before gated operations.
type Authorizer interface {
	Authorize(ctx context.Context, session *Session, op Operation, prompt CredentialPrompt) (*Approval, error)
}

type accountEntry struct {
	mu      sync.Mutex
	account *model.Account
	closed  bool
}

// AccountService is the in-memory account collection, written through to the
// repository. Every returned account is a copy.
type AccountService struct {
	repo   repository.IAccountRepository
	cipher FieldCipher
	trail  *audit.Trail
	gate   Authorizer

	mu       sync.RWMutex
	accounts map[string]*accountEntry
}

func NewAccountService(repo repository.IAccountRepository, cipher FieldCipher, trail *audit.Trail, gate Authorizer) *AccountService {
	return &AccountService{
		repo:     repo,
		cipher:   cipher,
		trail:    trail,
		gate:     gate,
		accounts: make(map[string]*accountEntry),
	}
}

// Load replaces the collection with every persisted row. Rows that cannot be
// decrypted are left out, audited and returned joined in the error.
func (s *AccountService) Load(ctx context.Context) error {
	rows, err := s.repo.GetAllAccounts(ctx)
	if err != nil {
		return common.NewPersistenceError("accounts could not be loaded", err)
	}

	loaded := make(map[string]*accountEntry, len(rows))
	var errs []error
	for _, row := range rows {
		acc, err := s.decryptRow(row)
		if err != nil {
			logger.Log.WithError(err).WithField("account_no", row.AccountNo).Error("Skipping account that could not be decrypted")
			errs = append(errs, fmt.Errorf("account %s: %w", row.AccountNo, err))
			if auditErr := s.trail.Record(ctx, audit.Record{
				Kind:      audit.KindApplicationError,
				Actor:     systemActor,
				AccountNo: row.AccountNo,
				Detail:    err.Error(),
			}); auditErr != nil {
				errs = append(errs, auditErr)
			}
			continue
		}
		loaded[model.NormalizeAccountNo(acc.AccountNo)] = &accountEntry{account: acc}
	}

	s.mu.Lock()
	s.accounts = loaded
	s.mu.Unlock()

	logger.Log.WithFields(logrus.Fields{
		"loaded":  len(loaded),
		"skipped": len(rows) - len(loaded),
	}).Info("Account store loaded")
	return errors.Join(errs...)
}

// Open validates the request and persists a new account.
func (s *AccountService) Open(ctx context.Context, session *Session, req model.OpenAccountRequest) (*model.Account, error) {
	if session == nil {
		return nil, ErrAuthenticationFailed
	}
	req.Name = common.Sanitise(req.Name)
	req.AddressLine1 = common.Sanitise(req.AddressLine1)
	req.AddressLine2 = common.Sanitise(req.AddressLine2)
	req.AddressLine3 = common.Sanitise(req.AddressLine3)
	req.Town = common.Sanitise(req.Town)
	if err := common.ValidateStruct(req); err != nil {
		return nil, err
	}

	acc := &model.Account{
		AccountNo: uuid.NewString(),
		Holder: model.Holder{
			Name:         req.Name,
			AddressLine1: req.AddressLine1,
			AddressLine2: req.AddressLine2,
			AddressLine3: req.AddressLine3,
			Town:         req.Town,
		},
		Balance: req.Balance,
	}
	if req.Type == model.AccountTypeCurrent {
		acc.Variant = model.Current{OverdraftLimit: req.Overdraft}
	} else {
		acc.Variant = model.Savings{InterestRate: req.InterestRate}
	}

	row, err := s.encryptAccount(acc)
	if err != nil {
		return nil, err
	}
	if err := s.repo.CreateAccount(ctx, row); err != nil {
		return nil, common.NewPersistenceError("account could not be stored", err)
	}

	s.mu.Lock()
	s.accounts[model.NormalizeAccountNo(acc.AccountNo)] = &accountEntry{account: acc}
	s.mu.Unlock()

	err = s.trail.Record(ctx, audit.Record{
		Kind:          audit.KindAccountCreation,
		Actor:         session.Username(),
		AccountNo:     acc.AccountNo,
		AccountHolder: acc.Name,
		Amount:        audit.Amount(acc.Balance),
	})
	return acc.Clone(), err
}

// Find returns a copy of the account, or nil when the number is malformed or
// unknown. A hit is audited as a balance query.
func (s *AccountService) Find(ctx context.Context, session *Session, accountNo string) (*model.Account, error) {
	if session == nil {
		return nil, ErrAuthenticationFailed
	}
	if !common.IsValidAccountNo(common.Sanitise(accountNo)) {
		return nil, nil
	}

	entry, ok := s.lockAccount(accountNo)
	if !ok {
		return nil, nil
	}
	defer entry.mu.Unlock()

	acc := entry.account.Clone()
	err := s.trail.Record(ctx, audit.Record{
		Kind:          audit.KindBalanceQuery,
		Actor:         session.Username(),
		AccountNo:     acc.AccountNo,
		AccountHolder: acc.Name,
	})
	return acc, err
}

// Preview returns a copy of the account for an operation that audits itself,
// such as the confirmation shown before Close. It writes no balance query.
func (s *AccountService) Preview(session *Session, accountNo string) (*model.Account, error) {
	if session == nil {
		return nil, ErrAuthenticationFailed
	}
	if !common.IsValidAccountNo(common.Sanitise(accountNo)) {
		return nil, ErrAccountNotFound
	}

	entry, ok := s.lockAccount(accountNo)
	if !ok {
		return nil, ErrAccountNotFound
	}
	defer entry.mu.Unlock()
	return entry.account.Clone(), nil
}

// Close deletes the account once the gate approves. A denial leaves the
// account untouched.
func (s *AccountService) Close(ctx context.Context, session *Session, accountNo string, prompt CredentialPrompt) error {
	if session == nil {
		return ErrAuthenticationFailed
	}
	if !s.exists(accountNo) {
		return ErrAccountNotFound
	}

	approval, err := s.gate.Authorize(ctx, session, OpCloseAccount, prompt)
	if err != nil {
		return err
	}

	entry, ok := s.lockAccount(accountNo)
	if !ok {
		return ErrAccountNotFound
	}
	defer entry.mu.Unlock()
	acc := entry.account

	if err := s.repo.DeleteAccount(ctx, acc.AccountNo); err != nil {
		return common.NewPersistenceError("account could not be deleted", err)
	}

	entry.closed = true
	s.mu.Lock()
	delete(s.accounts, model.NormalizeAccountNo(acc.AccountNo))
	s.mu.Unlock()

	return s.trail.Record(ctx, audit.Record{
		Kind:          audit.KindAccountClosure,
		Actor:         session.Username(),
		AccountNo:     acc.AccountNo,
		AccountHolder: acc.Name,
		Operation:     string(OpCloseAccount),
		Detail:        "approved by " + approval.Approver,
	})
}

// Deposit credits amount to the account. reason is required above the
// materiality threshold.
func (s *AccountService) Deposit(ctx context.Context, session *Session, accountNo string, amount float64, reason string) (*model.Account, error) {
	return s.applyMovement(ctx, session, accountNo, amount, reason, audit.KindLodgement)
}

// Withdraw debits amount from the account, subject to the variant's
// available funds.
func (s *AccountService) Withdraw(ctx context.Context, session *Session, accountNo string, amount float64, reason string) (*model.Account, error) {
	return s.applyMovement(ctx, session, accountNo, amount, reason, audit.KindWithdrawal)
}

func (s *AccountService) applyMovement(ctx context.Context, session *Session, accountNo string, amount float64, reason string, kind audit.Kind) (*model.Account, error) {
	if session == nil {
		return nil, ErrAuthenticationFailed
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 || amount > common.MaxAmount {
		return nil, ErrInvalidAmount
	}
	reason = common.Sanitise(reason)
	if s.trail.RequiresJustification(amount) && reason == "" {
		return nil, common.ErrJustificationRequired
	}
	if !common.IsValidAccountNo(common.Sanitise(accountNo)) {
		return nil, ErrInvalidAccountNo
	}

	entry, ok := s.lockAccount(accountNo)
	if !ok {
		return nil, ErrAccountNotFound
	}
	defer entry.mu.Unlock()
	acc := entry.account

	newBalance := acc.Balance + amount
	if kind == audit.KindWithdrawal {
		if !acc.CanWithdraw(amount) {
			return nil, ErrInsufficientFunds
		}
		newBalance = acc.Balance - amount
	}

	log := logger.Log.WithFields(logrus.Fields{
		"account_no": acc.AccountNo,
		"kind":       kind,
	})
	if err := s.repo.UpdateAccountBalance(ctx, acc.AccountNo, newBalance); err != nil {
		log.WithError(err).Error("Balance update failed")
		return nil, common.NewPersistenceError("balance could not be updated", err)
	}
	acc.Balance = newBalance

	err := s.trail.Record(ctx, audit.Record{
		Kind:          kind,
		Actor:         session.Username(),
		AccountNo:     acc.AccountNo,
		AccountHolder: acc.Name,
		Amount:        audit.Amount(amount),
		Reason:        reason,
	})
	return acc.Clone(), err
}

func (s *AccountService) exists(accountNo string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.accounts[model.NormalizeAccountNo(accountNo)]
	return ok
}

// lockAccount returns the entry with its mutex held. It reports false when the
// account is unknown or was closed while waiting for the lock.
func (s *AccountService) lockAccount(accountNo string) (*accountEntry, bool) {
	s.mu.RLock()
	entry, ok := s.accounts[model.NormalizeAccountNo(accountNo)]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}

	entry.mu.Lock()
	if entry.closed {
		entry.mu.Unlock()
		return nil, false
	}
	return entry, true
}

func (s *AccountService) encryptAccount(acc *model.Account) (*model.AccountRow, error) {
	row := &model.AccountRow{
		AccountNo:   acc.AccountNo,
		Balance:     acc.Balance,
		AccountType: acc.Variant.Type(),
	}
	fields := []struct {
		dst   *string
		plain string
	}{
		{&row.Name, acc.Name},
		{&row.AddressLine1, acc.AddressLine1},
		{&row.AddressLine2, acc.AddressLine2},
		{&row.AddressLine3, acc.AddressLine3},
		{&row.Town, acc.Town},
	}
	for _, f := range fields {
		enc, err := s.cipher.Encrypt(f.plain)
		if err != nil {
			return nil, common.NewPersistenceError("account fields could not be encrypted", err)
		}
		*f.dst = enc
	}

	switch v := acc.Variant.(type) {
	case model.Current:
		row.OverdraftAmount.Float64, row.OverdraftAmount.Valid = v.OverdraftLimit, true
	case model.Savings:
		row.InterestRate.Float64, row.InterestRate.Valid = v.InterestRate, true
	}
	return row, nil
}

func (s *AccountService) decryptRow(row *model.AccountRow) (*model.Account, error) {
	acc := &model.Account{AccountNo: row.AccountNo, Balance: row.Balance}
	fields := []struct {
		dst    *string
		cipher string
	}{
		{&acc.Name, row.Name},
		{&acc.AddressLine1, row.AddressLine1},
		{&acc.AddressLine2, row.AddressLine2},
		{&acc.AddressLine3, row.AddressLine3},
		{&acc.Town, row.Town},
	}
	for _, f := range fields {
		plain, err := s.cipher.Decrypt(f.cipher)
		if err != nil {
			return nil, err
		}
		*f.dst = plain
	}

	switch row.AccountType {
	case model.AccountTypeCurrent:
		acc.Variant = model.Current{OverdraftLimit: row.OverdraftAmount.Float64}
	case model.AccountTypeSavings:
		acc.Variant = model.Savings{InterestRate: row.InterestRate.Float64}
	default:
		return nil, common.NewValidationError(fmt.Sprintf("unknown account type %d", int(row.AccountType)), nil)
	}
	return acc, nil
}

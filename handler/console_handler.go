package handler

import (
	"context"
	"fmt"
	"io"
	"secure-ledger/audit"
	"secure-ledger/common"
	"secure-ledger/logger"
	"secure-ledger/model"
	"secure-ledger/service"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// ConsoleHandler drives the operator console on top of the services.
type ConsoleHandler struct {
	gate        *service.AuthService
	store       *service.AccountService
	users       *service.UserService
	trail       *audit.Trail
	prompter    Prompter
	out         io.Writer
	maxAttempts int
}

func NewConsoleHandler(
	gate *service.AuthService,
	store *service.AccountService,
	users *service.UserService,
	trail *audit.Trail,
	prompter Prompter,
	out io.Writer,
	maxAttempts int,
) *ConsoleHandler {
	return &ConsoleHandler{
		gate:        gate,
		store:       store,
		users:       users,
		trail:       trail,
		prompter:    prompter,
		out:         out,
		maxAttempts: maxAttempts,
	}
}

// OpenAccount collects the holder details and opens the account.
func (h *ConsoleHandler) OpenAccount(ctx context.Context, session *service.Session) error {
	var req model.OpenAccountRequest

	kind, err := h.prompter.Line("Account type (1 = Current, 2 = Savings): ")
	if err != nil {
		return err
	}
	switch strings.TrimSpace(kind) {
	case "1":
		req.Type = model.AccountTypeCurrent
	case "2":
		req.Type = model.AccountTypeSavings
	default:
		return common.NewValidationError("account type must be 1 or 2", nil)
	}

	fields := []struct {
		label string
		dst   *string
	}{
		{"Name: ", &req.Name},
		{"Address line 1: ", &req.AddressLine1},
		{"Address line 2: ", &req.AddressLine2},
		{"Address line 3: ", &req.AddressLine3},
		{"Town: ", &req.Town},
	}
	for _, f := range fields {
		if *f.dst, err = h.prompter.Line(f.label); err != nil {
			return err
		}
	}

	if req.Balance, err = h.promptAmount("Opening balance: "); err != nil {
		return err
	}
	if req.Type == model.AccountTypeCurrent {
		req.Overdraft, err = h.promptAmount("Overdraft limit: ")
	} else {
		req.InterestRate, err = h.promptAmount("Interest rate (%): ")
	}
	if err != nil {
		return err
	}

	acc, err := h.store.Open(ctx, session, req)
	if acc != nil {
		fmt.Fprintf(h.out, "Account opened.\n%s", acc)
	}
	return err
}

// ViewAccount prints the account or a not-found message.
func (h *ConsoleHandler) ViewAccount(ctx context.Context, session *service.Session, accountNo string) error {
	acc, err := h.store.Find(ctx, session, accountNo)
	if acc != nil {
		fmt.Fprint(h.out, acc)
	}
	if err != nil {
		return err
	}
	if acc == nil {
		fmt.Fprintln(h.out, "Account not found.")
	}
	return nil
}

// Lodge deposits amount, asking for a reason when the amount is material.
func (h *ConsoleHandler) Lodge(ctx context.Context, session *service.Session, accountNo, amount, reason string) error {
	value, reason, err := h.movementInput(amount, reason)
	if err != nil {
		return err
	}
	acc, err := h.store.Deposit(ctx, session, accountNo, value, reason)
	if acc != nil {
		fmt.Fprintf(h.out, "Lodged €%.2f. New balance: €%.2f\n", value, acc.Balance)
	}
	return err
}

// Withdraw takes amount from the account, asking for a reason when the
// amount is material.
func (h *ConsoleHandler) Withdraw(ctx context.Context, session *service.Session, accountNo, amount, reason string) error {
	value, reason, err := h.movementInput(amount, reason)
	if err != nil {
		return err
	}
	acc, err := h.store.Withdraw(ctx, session, accountNo, value, reason)
	if acc != nil {
		fmt.Fprintf(h.out, "Withdrew €%.2f. New balance: €%.2f\n", value, acc.Balance)
	}
	return err
}

// CloseAccount shows the account, asks for confirmation and then closes it,
// prompting for an administrator when the session is not privileged.
func (h *ConsoleHandler) CloseAccount(ctx context.Context, session *service.Session, accountNo string) error {
	acc, err := h.store.Preview(session, accountNo)
	if err != nil {
		return err
	}
	fmt.Fprint(h.out, acc)

	confirmed, err := h.prompter.Confirm("Confirm deletion (Y/N): ")
	if err != nil {
		return err
	}
	if !confirmed {
		fmt.Fprintln(h.out, "Deletion cancelled.")
		return nil
	}

	if err := h.store.Close(ctx, session, acc.AccountNo, h.approvalPrompt); err != nil {
		return err
	}
	fmt.Fprintln(h.out, "Account closed.")
	return nil
}

func (h *ConsoleHandler) approvalPrompt(_ context.Context, pending *service.PendingApproval) (string, string, error) {
	fmt.Fprintf(h.out, "Administrator approval required for %s (expires %s).\n",
		pending.Operation, pending.ExpiresAt.Local().Format("15:04:05"))
	username, err := h.prompter.Line("Administrator username: ")
	if err != nil {
		return "", "", err
	}
	secret, err := h.prompter.Secret("Administrator password: ")
	if err != nil {
		return "", "", err
	}
	return username, secret, nil
}

func (h *ConsoleHandler) movementInput(amount, reason string) (float64, string, error) {
	value, err := parseAmount(amount)
	if err != nil {
		return 0, "", err
	}
	reason = common.Sanitise(reason)
	if reason == "" && h.trail.RequiresJustification(value) {
		if reason, err = h.prompter.Line("Reason for transaction: "); err != nil {
			return 0, "", err
		}
	}
	return value, reason, nil
}

func (h *ConsoleHandler) promptAmount(label string) (float64, error) {
	raw, err := h.prompter.Line(label)
	if err != nil {
		return 0, err
	}
	return parseAmount(raw)
}

// parseAmount reads an operator-entered amount. Blank input is zero.
func parseAmount(raw string) (float64, error) {
	raw = common.Sanitise(raw)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"input": raw}).Debug("Rejected amount")
		return 0, common.NewValidationError("amount must be a number", err)
	}
	return value, nil
}

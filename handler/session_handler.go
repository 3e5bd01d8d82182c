package handler

import (
	"context"
	"errors"
	"fmt"
	"secure-ledger/common"
	"secure-ledger/logger"
	"secure-ledger/service"
	"strings"
)

var ErrTooManyAttempts = common.NewAppError(common.KindAuth, "maximum login attempts exceeded", nil)

// Login prompts for credentials until authentication succeeds or the
// attempts run out. Running out is audited.
func (h *ConsoleHandler) Login(ctx context.Context) (*service.Session, error) {
	var username string
	for attempt := 1; attempt <= h.maxAttempts; attempt++ {
		var err error
		if username, err = h.prompter.Line("Username: "); err != nil {
			return nil, err
		}
		secret, err := h.prompter.Secret("Password: ")
		if err != nil {
			return nil, err
		}

		session, err := h.gate.Authenticate(ctx, username, secret)
		if err == nil {
			fmt.Fprintf(h.out, "Welcome, %s.\n", session.Username())
			return session, nil
		}
		if !errors.Is(err, service.ErrAuthenticationFailed) {
			return nil, err
		}
		fmt.Fprintf(h.out, "Login failed (%d of %d attempts).\n", attempt, h.maxAttempts)
	}

	if err := h.gate.RecordLockout(ctx, username); err != nil {
		logger.Log.WithError(err).Error("Lockout could not be audited")
	}
	return nil, ErrTooManyAttempts
}

// AddUser provisions a directory entry. An empty directory takes its first
// user without a login; after that the operator logs in and the addition is
// gated like any other privileged operation. The password is asked for twice.
func (h *ConsoleHandler) AddUser(ctx context.Context, username string, groups []string) error {
	bootstrap, err := h.users.Bootstrapping(ctx)
	if err != nil {
		return err
	}
	var session *service.Session
	if bootstrap {
		fmt.Fprintln(h.out, "The directory is empty. Creating the first user.")
	} else if session, err = h.Login(ctx); err != nil {
		return err
	}

	password, err := h.prompter.Secret("New user's password: ")
	if err != nil {
		return err
	}
	again, err := h.prompter.Secret("Repeat password: ")
	if err != nil {
		return err
	}
	if password != again {
		return common.NewValidationError("passwords do not match", nil)
	}

	user, err := h.users.Provision(ctx, session, service.NewUserRequest{
		Username: username,
		Password: password,
		Groups:   groups,
	}, h.approvalPrompt)
	if user != nil {
		fmt.Fprintf(h.out, "User %s created (%s).\n", user.Username, strings.Join(user.Groups, ", "))
	}
	return err
}

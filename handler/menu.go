package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"secure-ledger/common"
	"secure-ledger/service"
	"strings"
)

const menuText = `
1. Open account
2. View account
3. Lodge
4. Withdraw
5. Close account
6. Exit
`

// RunMenu is the interactive console loop. Each action's error is reported
// and the loop continues; it returns when the operator exits or input ends.
func (h *ConsoleHandler) RunMenu(ctx context.Context, session *service.Session) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprint(h.out, menuText)
		choice, err := h.prompter.Line("Choose an option: ")
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		var actionErr error
		switch strings.TrimSpace(choice) {
		case "1":
			actionErr = h.OpenAccount(ctx, session)
		case "2":
			actionErr = h.withAccountNo(func(no string) error { return h.ViewAccount(ctx, session, no) })
		case "3":
			actionErr = h.withAccountNo(func(no string) error { return h.movement(ctx, session, no, h.Lodge) })
		case "4":
			actionErr = h.withAccountNo(func(no string) error { return h.movement(ctx, session, no, h.Withdraw) })
		case "5":
			actionErr = h.withAccountNo(func(no string) error { return h.CloseAccount(ctx, session, no) })
		case "6":
			fmt.Fprintln(h.out, "Goodbye.")
			return nil
		default:
			fmt.Fprintln(h.out, "Unknown option.")
			continue
		}
		if errors.Is(actionErr, io.EOF) {
			return nil
		}
		_ = h.HandleError(ctx, session, actionErr)
	}
}

type movementFunc func(ctx context.Context, session *service.Session, accountNo, amount, reason string) error

func (h *ConsoleHandler) movement(ctx context.Context, session *service.Session, accountNo string, fn movementFunc) error {
	amount, err := h.prompter.Line("Amount: ")
	if err != nil {
		return err
	}
	return fn(ctx, session, accountNo, amount, "")
}

func (h *ConsoleHandler) withAccountNo(fn func(accountNo string) error) error {
	no, err := h.prompter.Line("Account number: ")
	if err != nil {
		return err
	}
	no = common.Sanitise(no)
	if !common.IsValidAccountNo(no) {
		fmt.Fprintln(h.out, "Invalid account number.")
		return nil
	}
	return fn(no)
}

package handler

import (
	"context"
	"errors"
	"fmt"
	"secure-ledger/audit"
	"secure-ledger/common"
	"secure-ledger/logger"
	"secure-ledger/service"
)

// HandleError reports err to the operator. Failures the operator cannot act
// on are also recorded as application errors against the acting session.
func (h *ConsoleHandler) HandleError(ctx context.Context, session *service.Session, err error) error {
	if err == nil {
		return nil
	}

	var appErr *common.AppError
	if errors.As(err, &appErr) {
		appErr.Report(h.out)
		switch appErr.Kind {
		case common.KindPersistence, common.KindDecryption, common.KindKeyUnavailable:
			h.recordApplicationError(ctx, session, err)
		}
		return err
	}

	logger.Log.WithError(err).Error("Unexpected error")
	fmt.Fprintln(h.out, "An unexpected error occurred.")
	h.recordApplicationError(ctx, session, err)
	return err
}

func (h *ConsoleHandler) recordApplicationError(ctx context.Context, session *service.Session, err error) {
	actor := "unknown"
	if session != nil {
		actor = session.Username()
	}
	if auditErr := h.trail.Record(ctx, audit.Record{
		Kind:   audit.KindApplicationError,
		Actor:  actor,
		Detail: err.Error(),
	}); auditErr != nil {
		logger.Log.WithError(auditErr).Error("Application error could not be audited")
	}
}

package service

import (
	"context"
	"fmt"
	"secure-ledger/audit"
	"secure-ledger/common"
	"secure-ledger/logger"
	"secure-ledger/model"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// UserService provisions directory entries. Once the directory holds a user,
// every addition goes through the dual-control gate and is audited.
type UserService struct {
	mu        sync.Mutex
	directory *DirectoryProvider
	trail     *audit.Trail
	gate      Authorizer
}

func NewUserService(directory *DirectoryProvider, trail *audit.Trail, gate Authorizer) *UserService {
	return &UserService{directory: directory, trail: trail, gate: gate}
}

// Bootstrapping reports whether the directory is empty, in which case the
// first user may be created without a session.
func (s *UserService) Bootstrapping(ctx context.Context) (bool, error) {
	n, err := s.directory.userRepo.CountUsers(ctx)
	if err != nil {
		return false, common.NewPersistenceError("identity directory could not be read", err)
	}
	return n == 0, nil
}

// Provision adds a user. A nil session is accepted only while the directory
// is empty; otherwise the session must be authorized for OpAddUser, which
// asks prompt for an administrator when the session is not privileged.
func (s *UserService) Provision(ctx context.Context, session *Session, req NewUserRequest, prompt CredentialPrompt) (*model.User, error) {
	req = req.clean()
	if err := common.ValidateStruct(req); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := audit.Record{
		Kind:      audit.KindUserProvisioning,
		Actor:     systemActor,
		Operation: string(OpAddUser),
	}
	if session == nil {
		empty, err := s.Bootstrapping(ctx)
		if err != nil {
			return nil, err
		}
		if !empty {
			return nil, ErrAuthenticationFailed
		}
		rec.Detail = "initial directory user"
	} else {
		approval, err := s.gate.Authorize(ctx, session, OpAddUser, prompt)
		if err != nil {
			return nil, err
		}
		rec.Actor = session.Username()
		rec.Detail = "approved by " + approval.Approver
	}

	user, err := s.directory.addUser(ctx, req)
	if err != nil {
		return nil, err
	}

	logger.Log.WithFields(logrus.Fields{
		"username": user.Username,
		"actor":    rec.Actor,
	}).Info("Directory user provisioned")
	rec.Detail = fmt.Sprintf("created %s in %s; %s", user.Username, strings.Join(user.Groups, ", "), rec.Detail)
	return user, s.trail.Record(ctx, rec)
}

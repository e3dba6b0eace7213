package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"biosecure-portal/internal/domain"
	"biosecure-portal/internal/repository"
)

// AuditService appends authentication attempts to the audit log. Recording is
// best effort: a failed append must never block a login.
type AuditService interface {
	Record(ctx context.Context, userID, email, method string, success bool, matchScore int)
	History(ctx context.Context, email string, limit int) ([]domain.AuthLog, error)
}

type auditService struct {
	logs   repository.AuthLogRepository
	logger *logrus.Logger
}

func NewAuditService(logs repository.AuthLogRepository, logger *logrus.Logger) AuditService {
	if logger == nil {
		logger = logrus.New()
	}
	return &auditService{logs: logs, logger: logger}
}

func (s *auditService) Record(ctx context.Context, userID, email, method string, success bool, matchScore int) {
	entry := &domain.AuthLog{
		UserID:     userID,
		Email:      email,
		Method:     method,
		Success:    success,
		MatchScore: matchScore,
	}
	if err := s.logs.Append(ctx, entry); err != nil {
		s.logger.WithFields(logrus.Fields{
			"email":  email,
			"method": method,
		}).Warnf("append auth log: %v", err)
	}
}

func (s *auditService) History(ctx context.Context, email string, limit int) ([]domain.AuthLog, error) {
	return s.logs.ListByEmail(ctx, email, limit)
}

package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"carehub/internal/domain"
	"carehub/internal/ports"
)

type CreateSubscriptionInput struct {
	CompanyID string
	PlanID    string
	Seats     int
}

type SubscriptionService struct {
	repo  ports.SubscriptionRepository
	codes *CodeGenerator
	audit *AuditLogger
	now   func() time.Time
}

func NewSubscriptionService(repo ports.SubscriptionRepository, codes *CodeGenerator, audit *AuditLogger) *SubscriptionService {
	return &SubscriptionService{
		repo:  repo,
		codes: codes,
		audit: audit,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *SubscriptionService) Create(ctx context.Context, actorID string, in CreateSubscriptionInput) (domain.Subscription, error) {
	in.CompanyID = strings.TrimSpace(in.CompanyID)
	in.PlanID = strings.TrimSpace(in.PlanID)
	if actorID == "" || in.CompanyID == "" || in.PlanID == "" || in.Seats <= 0 {
		return domain.Subscription{}, domain.ErrInvalidInput
	}
	code, err := s.codes.Next(ctx)
	if err != nil {
		return domain.Subscription{}, err
	}
	sub := domain.Subscription{
		Code:      code,
		CompanyID: in.CompanyID,
		PlanID:    in.PlanID,
		Seats:     in.Seats,
		CreatedBy: actorID,
		CreatedAt: s.now(),
	}
	if err := s.repo.Create(ctx, sub); err != nil {
		return domain.Subscription{}, fmt.Errorf("store subscription %s: %w", code, err)
	}
	if _, err := s.audit.Record(ctx, actorID, domain.ActionSubscriptionCreated, "subscription:"+code); err != nil {
		return domain.Subscription{}, err
	}
	return sub, nil
}

func (s *SubscriptionService) Get(ctx context.Context, code string) (domain.Subscription, error) {
	if _, err := s.codes.Parse(code); err != nil {
		return domain.Subscription{}, err
	}
	return s.repo.GetByCode(ctx, code)
}

func (s *SubscriptionService) List(ctx context.Context, limit int) ([]domain.Subscription, error) {
	return s.repo.List(ctx, clampLimit(limit))
}

func (s *SubscriptionService) LatestCode(ctx context.Context) (string, error) {
	return s.codes.LastIssued(ctx)
}

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/huangang/tracer/internal/models"
	"github.com/huangang/tracer/pkg/logger"
	"gorm.io/gorm"
)

// ErrFreePolicyMissing means the price_policies table has no free row.
// It is a deployment error, not something a request can fix.
var ErrFreePolicyMissing = errors.New("free price policy is not configured")

var ErrPolicyNotFound = errors.New("price policy not found")

// Entitlement is the resolved policy plus the paid transaction granting it.
// Transaction is nil when the user falls back to the free policy.
type Entitlement struct {
	Policy      *models.PricePolicy `json:"policy"`
	Transaction *models.Transaction `json:"transaction,omitempty"`
}

// IsPaid reports whether the entitlement comes from an active purchase.
func (e *Entitlement) IsPaid() bool {
	return e.Transaction != nil
}

type EntitlementService struct {
	db  *gorm.DB
	now func() time.Time
}

func NewEntitlementService(db *gorm.DB) *EntitlementService {
	return &EntitlementService{db: db, now: time.Now}
}

// Resolve looks only at the most recent paid transaction. An older purchase
// that is still running does not revive once a newer one has expired.
func (s *EntitlementService) Resolve(ctx context.Context, userID uint) (*Entitlement, error) {
	var tx models.Transaction
	err := s.db.WithContext(ctx).
		Preload("PricePolicy").
		Where("user_id = ? AND status = ?", userID, models.TransactionPaid).
		Order("created_at DESC").
		Order("id DESC").
		Take(&tx).Error

	switch {
	case err == nil:
		if tx.ActiveAt(s.now()) && tx.PricePolicy != nil {
			return &Entitlement{Policy: tx.PricePolicy, Transaction: &tx}, nil
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return nil, fmt.Errorf("query latest transaction: %w", err)
	}

	free, err := s.FreePolicy(ctx)
	if err != nil {
		return nil, err
	}
	return &Entitlement{Policy: free}, nil
}

// ResolvePolicy returns the policy in force for userID right now.
func (s *EntitlementService) ResolvePolicy(ctx context.Context, userID uint) (*models.PricePolicy, error) {
	ent, err := s.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	return ent.Policy, nil
}

func (s *EntitlementService) FreePolicy(ctx context.Context) (*models.PricePolicy, error) {
	var policy models.PricePolicy
	err := s.db.WithContext(ctx).
		Where("category = ?", models.PolicyFree).
		Order("id ASC").
		Take(&policy).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		logger.Error().Msg("[Entitlement] no free price policy configured")
		return nil, ErrFreePolicyMissing
	}
	if err != nil {
		return nil, fmt.Errorf("query free policy: %w", err)
	}
	return &policy, nil
}

// ListPurchasable returns the paid policies offered on the pricing page.
func (s *EntitlementService) ListPurchasable(ctx context.Context) ([]models.PricePolicy, error) {
	var policies []models.PricePolicy
	err := s.db.WithContext(ctx).
		Where("category = ?", models.PolicyPaid).
		Order("price ASC").
		Find(&policies).Error
	return policies, err
}

func (s *EntitlementService) GetPolicy(ctx context.Context, id uint) (*models.PricePolicy, error) {
	var policy models.PricePolicy
	err := s.db.WithContext(ctx).Take(&policy, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPolicyNotFound
	}
	return &policy, err
}

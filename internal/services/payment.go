package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/huangang/tracer/internal/cache"
	"github.com/huangang/tracer/internal/gateway"
	"github.com/huangang/tracer/internal/models"
	"github.com/huangang/tracer/pkg/logger"
	"gorm.io/gorm"
)

const (
	quoteTTL   = 30 * time.Minute
	daysInYear = 365
	day        = 24 * time.Hour
)

var (
	ErrInvalidSignature   = errors.New("invalid payment signature")
	ErrInvalidQuantity    = errors.New("quantity must be at least 1")
	ErrPolicyNotForSale   = errors.New("price policy is not purchasable")
	ErrNothingToPay       = errors.New("current plan credit covers this order")
	ErrQuoteExpired       = errors.New("quote expired or does not match this order, please quote again")
	ErrOrderNotFound      = errors.New("order not found")
	ErrMissingOrderID     = errors.New("notification carries no order id")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable, please retry")
)

// Quote is the price breakdown for a purchase, in cents.
type Quote struct {
	PolicyID  uint      `json:"policy_id"`
	Title     string    `json:"title"`
	Price     int64     `json:"price"`
	Number    int       `json:"number"`
	Origin    int64     `json:"origin_price"`
	Credit    int64     `json:"credit"`
	Total     int64     `json:"total_price"`
	CreatedAt time.Time `json:"created_at"`
}

type InitiateResult struct {
	OrderID     string `json:"order_id"`
	RedirectURL string `json:"redirect_url"`
	Quote       *Quote `json:"quote"`
}

type PaymentService struct {
	db          *gorm.DB
	entitlement *EntitlementService
	gateway     gateway.Gateway
	cache       cache.Cache
	queue       TaskQueue
	subject     string
	now         func() time.Time
}

func NewPaymentService(db *gorm.DB, entitlement *EntitlementService, gw gateway.Gateway, c cache.Cache, queue TaskQueue, subject string) *PaymentService {
	return &PaymentService{
		db:          db,
		entitlement: entitlement,
		gateway:     gw,
		cache:       c,
		queue:       queue,
		subject:     subject,
		now:         time.Now,
	}
}

func quoteKey(userID uint) string {
	return "payment:" + strconv.FormatUint(uint64(userID), 10)
}

// Quote prices quantity years of policyID for userID. When the user is on a
// paid plan, the unused part of the current purchase is credited.
func (s *PaymentService) Quote(ctx context.Context, userID, policyID uint, quantity int) (*Quote, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}

	policy, err := s.entitlement.GetPolicy(ctx, policyID)
	if err != nil {
		return nil, err
	}
	if policy.Category != models.PolicyPaid {
		return nil, ErrPolicyNotForSale
	}

	ent, err := s.entitlement.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	q := &Quote{
		PolicyID:  policy.ID,
		Title:     policy.Title,
		Price:     policy.Price,
		Number:    quantity,
		Origin:    int64(quantity) * policy.Price,
		CreatedAt: now,
	}
	if ent.IsPaid() && ent.Policy.Category == models.PolicyPaid {
		q.Credit = credit(ent.Transaction, now)
	}
	if q.Credit > q.Origin {
		q.Credit = q.Origin
	}
	q.Total = q.Origin - q.Credit

	if b, err := json.Marshal(q); err == nil {
		if err := s.cache.Set(ctx, quoteKey(userID), b, quoteTTL); err != nil {
			logger.Warn().Err(err).Uint("user_id", userID).Msg("[Payment] failed to cache quote")
		}
	}
	return q, nil
}

// CachedQuote returns the last quote computed for userID within quoteTTL.
func (s *PaymentService) CachedQuote(ctx context.Context, userID uint) (*Quote, error) {
	b, err := s.cache.Get(ctx, quoteKey(userID))
	if err != nil {
		return nil, err
	}
	var q Quote
	if err := json.Unmarshal(b, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// credit prorates tx.Amount over whole days. Purchases without an end date
// or already at their last day yield nothing.
func credit(tx *models.Transaction, now time.Time) int64 {
	if tx == nil || tx.StartAt == nil || tx.EndAt == nil {
		return 0
	}
	totalDays := int64(tx.EndAt.Sub(*tx.StartAt) / day)
	remainingDays := int64(tx.EndAt.Sub(now) / day)
	if totalDays <= 0 || remainingDays <= 0 {
		return 0
	}
	return remainingDays * tx.Amount / totalDays
}

// Initiate records an unpaid order for the quote the user last saw and
// returns the provider redirect. The quote must still be cached and match
// policyID and quantity; it is consumed once the order row exists. A gateway
// failure leaves the unpaid row behind; it is inert without a signed
// notification.
func (s *PaymentService) Initiate(ctx context.Context, userID, policyID uint, quantity int) (*InitiateResult, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}
	q, err := s.CachedQuote(ctx, userID)
	if errors.Is(err, cache.ErrMiss) {
		return nil, ErrQuoteExpired
	}
	if err != nil {
		return nil, fmt.Errorf("load quote: %w", err)
	}
	if q.PolicyID != policyID || q.Number != quantity {
		return nil, ErrQuoteExpired
	}
	if q.Total <= 0 {
		return nil, ErrNothingToPay
	}

	orderID := strings.ReplaceAll(uuid.NewString(), "-", "")

	tx := &models.Transaction{
		Status:        models.TransactionUnpaid,
		OrderID:       orderID,
		UserID:        userID,
		PricePolicyID: policyID,
		Count:         quantity,
		Amount:        q.Total,
		CreatedAt:     s.now(),
	}
	if err := s.db.WithContext(ctx).Create(tx).Error; err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}
	if err := s.cache.Delete(ctx, quoteKey(userID)); err != nil {
		logger.Warn().Err(err).Uint("user_id", userID).Msg("[Payment] failed to drop used quote")
	}

	redirect, err := s.gateway.CreateRedirect(s.subject, orderID, q.Total)
	if err != nil {
		logger.Error().Err(err).Str("order_id", orderID).Msg("[Payment] gateway redirect failed")
		return nil, ErrGatewayUnavailable
	}

	logger.Info().
		Str("order_id", orderID).
		Uint("user_id", userID).
		Int64("amount", q.Total).
		Msg("[Payment] order initiated")
	return &InitiateResult{OrderID: orderID, RedirectURL: redirect, Quote: q}, nil
}

// Reconcile moves an unpaid order to paid exactly once. Unknown and already
// paid orders are left alone; the bool reports whether this call did it.
func (s *PaymentService) Reconcile(ctx context.Context, orderID string) (bool, error) {
	var changed bool
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		var tx models.Transaction
		if err := db.Where("order_id = ?", orderID).Take(&tx).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				logger.Warn().Str("order_id", orderID).Msg("[Payment] reconcile for unknown order")
				return nil
			}
			return err
		}
		if tx.IsPaid() {
			return nil
		}

		start := s.now()
		var end *time.Time
		if tx.Count > 0 {
			e := start.AddDate(0, 0, daysInYear*tx.Count)
			end = &e
		}

		res := db.Model(&models.Transaction{}).
			Where("order_id = ? AND status = ?", orderID, models.TransactionUnpaid).
			Updates(map[string]interface{}{
				"status":   models.TransactionPaid,
				"start_at": start,
				"end_at":   end,
			})
		if res.Error != nil {
			return res.Error
		}
		changed = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("reconcile %s: %w", orderID, err)
	}

	if changed {
		logger.Info().Str("order_id", orderID).Msg("[Payment] order paid")
	}
	return changed, nil
}

// ProcessReconcileTask adapts Reconcile to the task queue.
func (s *PaymentService) ProcessReconcileTask(ctx context.Context, task *ReconcileTask) error {
	_, err := s.Reconcile(ctx, task.OrderID)
	return err
}

// tradeSettled reports whether an Alipay trade_status means money arrived.
func tradeSettled(status string) bool {
	switch status {
	case "TRADE_SUCCESS", "TRADE_FINISHED":
		return true
	}
	return false
}

// HandleNotify authenticates a server-to-server notification and queues the
// order for reconciliation. Nothing is written when the signature is bad.
func (s *PaymentService) HandleNotify(ctx context.Context, params map[string]string, meta RequestMeta) error {
	orderID := params["out_trade_no"]

	if !s.gateway.VerifySignature(params, params["sign"]) {
		LogSecurity("Payment", "notify_bad_signature", "payment notification failed signature check", meta,
			map[string]string{"out_trade_no": orderID})
		return ErrInvalidSignature
	}
	if orderID == "" {
		return ErrMissingOrderID
	}

	if !tradeSettled(params["trade_status"]) {
		logger.Info().
			Str("order_id", orderID).
			Str("trade_status", params["trade_status"]).
			Msg("[Payment] notification ignored, trade not settled")
		return nil
	}

	return s.queue.Enqueue(ctx, &ReconcileTask{
		OrderID:    orderID,
		TradeNo:    params["trade_no"],
		ReceivedAt: s.now().Unix(),
	})
}

// VerifyReturn authenticates the browser return and loads the order for
// display. It never changes the order; only notifications do. The browser
// may arrive without a session, in which case userID is 0 and the signed
// order id alone selects the row.
func (s *PaymentService) VerifyReturn(ctx context.Context, userID uint, params map[string]string) (*models.Transaction, error) {
	if !s.gateway.VerifySignature(params, params["sign"]) {
		logger.Security().
			Uint("user_id", userID).
			Str("out_trade_no", params["out_trade_no"]).
			Msg("[Payment] return redirect failed signature check")
		return nil, ErrInvalidSignature
	}
	return s.findOrder(ctx, userID, params["out_trade_no"])
}

// GetOrder returns one of userID's orders. Other users' orders are reported
// as not found.
func (s *PaymentService) GetOrder(ctx context.Context, userID uint, orderID string) (*models.Transaction, error) {
	if userID == 0 {
		return nil, ErrOrderNotFound
	}
	return s.findOrder(ctx, userID, orderID)
}

func (s *PaymentService) findOrder(ctx context.Context, userID uint, orderID string) (*models.Transaction, error) {
	if orderID == "" {
		return nil, ErrOrderNotFound
	}
	query := s.db.WithContext(ctx).Preload("PricePolicy").Where("order_id = ?", orderID)
	if userID != 0 {
		query = query.Where("user_id = ?", userID)
	}
	var tx models.Transaction
	err := query.Take(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

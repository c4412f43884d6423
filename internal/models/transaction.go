package models

import "time"

type TransactionStatus int8

const (
	TransactionUnpaid TransactionStatus = 1
	TransactionPaid   TransactionStatus = 2
)

// Transaction records a purchase. It is created unpaid and moves to paid
// exactly once; StartAt/EndAt are stamped at that moment. A nil EndAt on a
// paid row means the entitlement never expires.
type Transaction struct {
	ID            uint              `gorm:"primaryKey" json:"id"`
	Status        TransactionStatus `gorm:"index;not null;default:1" json:"status"`
	OrderID       string            `gorm:"uniqueIndex;size:64;not null" json:"order_id"`
	UserID        uint              `gorm:"index;not null" json:"user_id"`
	User          *User             `gorm:"foreignKey:UserID" json:"-"`
	PricePolicyID uint              `gorm:"not null" json:"price_policy_id"`
	PricePolicy   *PricePolicy      `gorm:"foreignKey:PricePolicyID" json:"price_policy,omitempty"`
	Count         int               `gorm:"not null" json:"count"`  // years, 0 = unlimited
	Amount        int64             `gorm:"not null" json:"amount"` // cents actually charged
	StartAt       *time.Time        `json:"start_at"`
	EndAt         *time.Time        `json:"end_at"`
	CreatedAt     time.Time         `gorm:"index" json:"created_at"`
}

func (Transaction) TableName() string { return "transactions" }

// IsPaid reports whether the transaction has been reconciled.
func (t *Transaction) IsPaid() bool {
	return t.Status == TransactionPaid
}

// ActiveAt reports whether a paid transaction still grants its policy at now.
func (t *Transaction) ActiveAt(now time.Time) bool {
	if !t.IsPaid() {
		return false
	}
	return t.EndAt == nil || now.Before(*t.EndAt)
}

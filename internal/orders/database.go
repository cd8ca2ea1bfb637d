package orders

import (
	"errors"
	"time"

	"github.com/storely/storefront-api/internal/types"
	"gorm.io/gorm"
)

// ErrStaleOrder reports that a transition lost a race: the order's status
// changed between reading the aggregate and writing the update.
var ErrStaleOrder = errors.New("order status changed concurrently")

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// CreateOrder persists the order together with its items and initial
// tracking entry via gorm's association handling.
func (d *Database) CreateOrder(order *types.Order) error {
	return d.db.Create(order).Error
}

func (d *Database) GetOrder(orderNumber string) (*types.Order, error) {
	var order types.Order
	err := d.preloaded().Where("order_number = ?", orderNumber).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) GetOrderByNumberAndCustomerID(orderNumber, customerID string) (*types.Order, error) {
	var order types.Order
	err := d.preloaded().
		Where("order_number = ? AND customer_id = ?", orderNumber, customerID).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// ApplyTransition updates the order's status fields and appends the
// tracking entry in a single transaction, so the history can never drift
// from the status column. The update is a compare-and-swap on the status
// the caller read: when a concurrent writer moved the order first, no row
// matches and ErrStaleOrder is returned without touching the history.
func (d *Database) ApplyTransition(order *types.Order, status, paymentStatus, message string) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	now := time.Now()
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": now,
	}
	if paymentStatus != "" {
		updates["payment_status"] = paymentStatus
	}

	result := tx.Model(&types.Order{}).
		Where("order_number = ? AND status = ?", order.OrderNumber, order.Status).
		Updates(updates)
	if err := result.Error; err != nil {
		tx.Rollback()
		return err
	}
	if result.RowsAffected == 0 {
		tx.Rollback()
		return ErrStaleOrder
	}

	entry := types.TrackingEntry{
		OrderNumber: order.OrderNumber,
		Status:      status,
		Message:     message,
		CreatedAt:   now,
	}
	if err := tx.Create(&entry).Error; err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit().Error; err != nil {
		return err
	}

	order.Status = status
	if paymentStatus != "" {
		order.PaymentStatus = paymentStatus
	}
	order.UpdatedAt = now
	order.TrackingHistory = append(order.TrackingHistory, entry)
	return nil
}

// CountOrdersForCustomer returns the number of orders a customer owns.
func (d *Database) CountOrdersForCustomer(customerID string) (int64, error) {
	var count int64
	err := d.db.Model(&types.Order{}).Where("customer_id = ?", customerID).Count(&count).Error
	return count, err
}

func (d *Database) preloaded() *gorm.DB {
	return d.db.
		Preload("Items").
		Preload("TrackingHistory", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		})
}

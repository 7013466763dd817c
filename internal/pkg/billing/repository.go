package billing

import (
	"errors"

	"github.com/finpilot/billing/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the billing engine.
type Repository interface {
	GetSubscriber(id uint) (*models.Subscriber, error)
	GetSubscriberByCustomerID(provider, customerID string) (*models.Subscriber, error)
	SetCustomerID(subscriberID uint, provider, customerID string) error
	UpdateSubscriber(subscriberID uint, updates map[string]interface{}) error
	UpdateSubscriberIfSubscription(subscriberID uint, subscriptionID string, updates map[string]interface{}) (bool, error)
	CreateBillingEventIfNotExists(event *models.BillingEvent) (bool, error)
	Transaction(fn func(Repository) error) error
	ListBillingEvents(subscriberID uint, limit int) ([]models.BillingEvent, error)
	CreateCheckoutAudit(audit *models.CheckoutAudit) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetSubscriber(id uint) (*models.Subscriber, error) {
	var sub models.Subscriber
	if err := r.db.First(&sub, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) GetSubscriberByCustomerID(provider, customerID string) (*models.Subscriber, error) {
	if customerID == "" {
		return nil, ErrNotFound
	}
	var column string
	switch provider {
	case models.BillingProviderStripe:
		column = "stripe_customer_id"
	case models.BillingProviderPaddle:
		column = "paddle_customer_id"
	default:
		return nil, ErrNotFound
	}
	var sub models.Subscriber
	if err := r.db.Where(column+" = ?", customerID).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) SetCustomerID(subscriberID uint, provider, customerID string) error {
	var column string
	switch provider {
	case models.BillingProviderStripe:
		column = "stripe_customer_id"
	case models.BillingProviderPaddle:
		column = "paddle_customer_id"
	default:
		return errors.New("unknown billing provider: " + provider)
	}
	return r.db.Model(&models.Subscriber{}).
		Where("id = ?", subscriberID).
		Update(column, customerID).Error
}

func (r *gormRepository) UpdateSubscriber(subscriberID uint, updates map[string]interface{}) error {
	return r.db.Model(&models.Subscriber{}).
		Where("id = ?", subscriberID).
		Updates(updates).Error
}

// UpdateSubscriberIfSubscription applies updates only while the stored
// provider subscription id still matches. The condition runs in the
// UPDATE itself, so a concurrent transition between read and write makes
// this a no-op instead of a lost update. The bool reports whether a row
// was written.
func (r *gormRepository) UpdateSubscriberIfSubscription(subscriberID uint, subscriptionID string, updates map[string]interface{}) (bool, error) {
	tx := r.db.Model(&models.Subscriber{}).
		Where("id = ? AND provider_subscription_id = ?", subscriberID, subscriptionID).
		Updates(updates)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// Transaction runs fn against a repository bound to a single database
// transaction. Returning an error rolls back every write fn made.
func (r *gormRepository) Transaction(fn func(Repository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

// CreateBillingEventIfNotExists appends a ledger row unless one with the
// same (provider, provider_event_id) already exists. The bool reports
// whether a new row was written.
func (r *gormRepository) CreateBillingEventIfNotExists(event *models.BillingEvent) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) ListBillingEvents(subscriberID uint, limit int) ([]models.BillingEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var events []models.BillingEvent
	err := r.db.Where("subscriber_id = ?", subscriberID).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *gormRepository) CreateCheckoutAudit(audit *models.CheckoutAudit) error {
	return r.db.Create(audit).Error
}

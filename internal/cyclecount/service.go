// Package cyclecount implements the cycle count workflow: recurring schedules,
// sampled count batches, count recording with discrepancy classification, and
// the approval step that gates inventory corrections.
package cyclecount

import (
	"context"
	"errors"
	"fmt"
	"time"

	"inventory-backend/internal/config"
	"inventory-backend/internal/metrics"
	"inventory-backend/internal/models"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// CatalogEntry is the state of one catalog record at snapshot time.
type CatalogEntry struct {
	Ref       models.ItemRef
	Name      string
	Category  string
	Location  string
	Quantity  decimal.Decimal
	UnitValue decimal.Decimal
}

// Value is what the record is worth on hand; abc sampling ranks by it.
func (e CatalogEntry) Value() decimal.Decimal {
	return e.Quantity.Mul(e.UnitValue)
}

// Catalog resolves tool and chemical records. Resolve returns NotFoundError for unknown refs.
type Catalog interface {
	Resolve(ctx context.Context, ref models.ItemRef) (CatalogEntry, error)
	Snapshot(ctx context.Context, types []models.ItemType) ([]CatalogEntry, error)
}

type Authorizer interface {
	HasPermission(ctx context.Context, userID uint, capability models.Capability) (bool, error)
}

type EventType string

const (
	EventBatchAssigned    EventType = "batch_assigned"
	EventDiscrepancyFound EventType = "discrepancy_found"
	EventBatchCompleted   EventType = "batch_completed"
)

type Event struct {
	ID          string    `json:"id"`
	Type        EventType `json:"event_type"`
	ReferenceID uint      `json:"reference_id"`
	Recipient   *uint     `json:"recipient,omitempty"`
	Message     string    `json:"message"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Notifier receives lifecycle events. Delivery failures never fail the operation that emitted them.
type Notifier interface {
	Notify(ctx context.Context, evt Event) error
}

type Service struct {
	db       *gorm.DB
	catalog  Catalog
	authz    Authorizer
	notifier Notifier
	locker   *redislock.Client
	logger   *logrus.Logger
	abc      config.ABCConfig
	now      func() time.Time
	seed     func() int64
}

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithLocker adds a redis lock around item generation, on top of the row-level guard.
func WithLocker(l *redislock.Client) Option {
	return func(s *Service) { s.locker = l }
}

func WithABC(cfg config.ABCConfig) Option {
	return func(s *Service) { s.abc = cfg }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithSeedSource sets where sample seeds come from when a request does not pin one.
func WithSeedSource(seed func() int64) Option {
	return func(s *Service) { s.seed = seed }
}

func NewService(db *gorm.DB, catalog Catalog, authz Authorizer, logger *logrus.Logger, opts ...Option) *Service {
	s := &Service{
		db:      db,
		catalog: catalog,
		authz:   authz,
		logger:  logger,
		abc:     config.DefaultABC(),
		now:     func() time.Time { return time.Now().UTC() },
		seed:    func() int64 { return time.Now().UnixNano() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logrus.New()
	}
	return s
}

func (s *Service) authorize(ctx context.Context, userID uint, capability models.Capability) error {
	if userID == 0 {
		return ValidationError{Field: "user_id", Message: "is required"}
	}
	ok, err := s.authz.HasPermission(ctx, userID, capability)
	if err != nil {
		return fmt.Errorf("authorization check: %w", err)
	}
	if !ok {
		return AuthorizationError{UserID: userID, Capability: capability}
	}
	return nil
}

func (s *Service) emit(ctx context.Context, typ EventType, referenceID uint, recipient *uint, message string) {
	if s.notifier == nil {
		return
	}
	evt := Event{
		ID:          uuid.NewString(),
		Type:        typ,
		ReferenceID: referenceID,
		Recipient:   recipient,
		Message:     message,
		OccurredAt:  s.now(),
	}
	if err := s.notifier.Notify(ctx, evt); err != nil {
		metrics.NotificationFailures.WithLabelValues(string(typ)).Inc()
		config.LogError(s.logger, "cyclecount", "emit", "notification delivery failed", evt, err)
	}
}

// findByID loads one row and maps a missing row to NotFoundError.
func findByID[T any](tx *gorm.DB, entity string, id uint) (T, error) {
	var row T
	err := tx.First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return row, NotFoundError{Entity: entity, ID: id}
	}
	if err != nil {
		return row, fmt.Errorf("load %s %d: %w", entity, id, err)
	}
	return row, nil
}

func (s *Service) ensureUser(tx *gorm.DB, userID uint) error {
	var count int64
	if err := tx.Model(&models.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		return fmt.Errorf("check user %d: %w", userID, err)
	}
	if count == 0 {
		return NotFoundError{Entity: EntityUser, ID: userID}
	}
	return nil
}

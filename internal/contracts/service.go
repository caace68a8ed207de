package contracts

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/contrax-app/contrax/backend/internal/apperr"
	"github.com/contrax-app/contrax/backend/internal/metrics"
	"github.com/contrax-app/contrax/backend/internal/plans"
	"github.com/contrax-app/contrax/backend/internal/realtime"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opServiceNew      = "contracts.service.new"
	opCreate          = "contracts.create"
	opTransition      = "contracts.transition"
	opGet             = "contracts.get"
	opList            = "contracts.list"
	opListActivities  = "contracts.list_activities"
	opDashboard       = "contracts.dashboard"
	queryContractID   = "id = ?"
	queryOwnerID      = "owner_id = ?"
	orderNewestFirst  = "created_at DESC"
	maxTitleLength    = 200
	reasonQueryFailed = "query_failed"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingLedger     = errors.New("plan ledger is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// QuotaLedger is the slice of the plan ledger contract creation depends on.
type QuotaLedger interface {
	RefreshPeriod(ctx context.Context, userID string) (plans.Record, error)
	IncrementUsage(ctx context.Context, tx *gorm.DB, userID string) (plans.Record, error)
}

type ServiceConfig struct {
	Database   *gorm.DB
	Ledger     QuotaLedger
	Clock      func() time.Time
	IDProvider IDProvider
	Publisher  realtime.Publisher
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

type Service struct {
	db         *gorm.DB
	ledger     QuotaLedger
	clock      func() time.Time
	idProvider IDProvider
	publisher  realtime.Publisher
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperr.Internal(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Ledger == nil {
		return nil, apperr.Internal(opServiceNew, "missing_ledger", errMissingLedger)
	}
	if cfg.IDProvider == nil {
		return nil, apperr.Internal(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = realtime.NopPublisher{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		ledger:     cfg.Ledger,
		clock:      clock,
		idProvider: cfg.IDProvider,
		publisher:  publisher,
		metrics:    cfg.Metrics,
		logger:     logger,
	}, nil
}

// CreateRequest carries the client input for a new contract.
type CreateRequest struct {
	UserID string
	Title  string
	Body   string
}

// Create admits the contract against the owner's monthly quota and stores it as a draft.
// The period reset is committed first; the usage increment, contract and activity entry commit together.
func (s *Service) Create(ctx context.Context, request CreateRequest) (Contract, error) {
	userID := strings.TrimSpace(request.UserID)
	title := strings.TrimSpace(request.Title)
	switch {
	case userID == "":
		return Contract{}, apperr.Validation(opCreate, "missing_user_id", "userId é obrigatório")
	case title == "":
		return Contract{}, apperr.Validation(opCreate, "missing_title", "titulo é obrigatório")
	case utf8.RuneCountInString(title) > maxTitleLength:
		return Contract{}, apperr.Validation(opCreate, "title_too_long", "titulo excede 200 caracteres")
	case strings.TrimSpace(request.Body) == "":
		return Contract{}, apperr.Validation(opCreate, "missing_body", "conteudo é obrigatório")
	}

	if _, err := s.ledger.RefreshPeriod(ctx, userID); err != nil {
		return Contract{}, err
	}

	contractID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err, zap.String("user_id", userID))
		return Contract{}, apperr.Internal(opCreate, "id_generation_failed", err)
	}

	var created Contract
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := s.ledger.IncrementUsage(ctx, tx, userID)
		if err != nil {
			return err
		}
		now := s.clock().UTC()
		created = Contract{
			ID:             contractID,
			OwnerID:        userID,
			Title:          title,
			Body:           request.Body,
			Status:         StatusDraft,
			PlanAtCreation: record.Plan.Effective(),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.Create(&created).Error; err != nil {
			return apperr.Internal(opCreate, "contract_insert_failed", err)
		}
		return s.appendActivity(tx, userID, ActionCreate, contractID, now)
	})
	if txErr != nil {
		if apperr.Is(txErr, apperr.KindQuotaExceeded) {
			s.metrics.ObserveQuotaRejection(s.planOf(ctx, userID))
			s.metrics.ObserveContractTransition(string(ActionCreate), metrics.OutcomeRejected)
			return Contract{}, txErr
		}
		if !apperr.Is(txErr, apperr.KindNotFound) {
			s.logError(opCreate, "transaction_failed", txErr, zap.String("user_id", userID))
		}
		s.metrics.ObserveContractTransition(string(ActionCreate), metrics.OutcomeFailed)
		return Contract{}, txErr
	}

	s.metrics.ObserveContractTransition(string(ActionCreate), metrics.OutcomeApplied)
	s.publishChange(created)
	return created, nil
}

func (s *Service) Sign(ctx context.Context, contractID string) (Contract, error) {
	return s.transition(ctx, contractID, ActionSign)
}

func (s *Service) Finalize(ctx context.Context, contractID string) (Contract, error) {
	return s.transition(ctx, contractID, ActionFinalize)
}

func (s *Service) Cancel(ctx context.Context, contractID string) (Contract, error) {
	return s.transition(ctx, contractID, ActionCancel)
}

func (s *Service) transition(ctx context.Context, contractID string, action Action) (Contract, error) {
	id := strings.TrimSpace(contractID)
	if id == "" {
		return Contract{}, apperr.Validation(opTransition, "missing_contract_id", "id do contrato é obrigatório")
	}

	var updated Contract
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current Contract
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where(queryContractID, id).Take(&current).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound(opTransition, "contract_not_found", "contrato não encontrado")
		}
		if err != nil {
			return apperr.Internal(opTransition, reasonQueryFailed, err)
		}

		next, ok := NextStatus(current.Status, action)
		if !ok {
			return apperr.Conflict(opTransition, "invalid_transition",
				"transição inválida a partir do status "+string(current.Status))
		}

		now := s.clock().UTC()
		result := tx.Model(&Contract{}).
			Where("id = ? AND status = ?", id, current.Status).
			Updates(map[string]any{"status": next, "updated_at": now})
		if result.Error != nil {
			return apperr.Internal(opTransition, "status_update_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return apperr.Conflict(opTransition, "concurrent_transition", "contrato alterado por outra requisição")
		}

		current.Status = next
		current.UpdatedAt = now
		updated = current
		return s.appendActivity(tx, current.OwnerID, action, id, now)
	})
	if txErr != nil {
		switch apperr.KindOf(txErr) {
		case apperr.KindConflict:
			s.metrics.ObserveContractTransition(string(action), metrics.OutcomeRejected)
		case apperr.KindNotFound:
			s.metrics.ObserveContractTransition(string(action), metrics.OutcomeIgnored)
		default:
			s.logError(opTransition, "transaction_failed", txErr,
				zap.String("contract_id", id), zap.String("action", string(action)))
			s.metrics.ObserveContractTransition(string(action), metrics.OutcomeFailed)
		}
		return Contract{}, txErr
	}

	s.metrics.ObserveContractTransition(string(action), metrics.OutcomeApplied)
	s.publishChange(updated)
	return updated, nil
}

// Get returns a single contract.
func (s *Service) Get(ctx context.Context, contractID string) (Contract, error) {
	id := strings.TrimSpace(contractID)
	if id == "" {
		return Contract{}, apperr.Validation(opGet, "missing_contract_id", "id do contrato é obrigatório")
	}
	var contract Contract
	err := s.db.WithContext(ctx).Where(queryContractID, id).Take(&contract).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Contract{}, apperr.NotFound(opGet, "contract_not_found", "contrato não encontrado")
	}
	if err != nil {
		s.logError(opGet, reasonQueryFailed, err, zap.String("contract_id", id))
		return Contract{}, apperr.Internal(opGet, reasonQueryFailed, err)
	}
	return contract, nil
}

// List returns contracts newest first. An empty ownerID lists every contract.
func (s *Service) List(ctx context.Context, ownerID string) ([]Contract, error) {
	query := s.db.WithContext(ctx).Order(orderNewestFirst)
	if owner := strings.TrimSpace(ownerID); owner != "" {
		query = query.Where(queryOwnerID, owner)
	}
	contracts := make([]Contract, 0)
	if err := query.Find(&contracts).Error; err != nil {
		s.logError(opList, reasonQueryFailed, err, zap.String("user_id", ownerID))
		return nil, apperr.Internal(opList, reasonQueryFailed, err)
	}
	return contracts, nil
}

// ListActivities returns the audit trail of a contract in chronological order.
func (s *Service) ListActivities(ctx context.Context, contractID string) ([]Activity, error) {
	if _, err := s.Get(ctx, contractID); err != nil {
		return nil, err
	}
	activities := make([]Activity, 0)
	err := s.db.WithContext(ctx).
		Where("contract_id = ?", strings.TrimSpace(contractID)).
		Order("occurred_at ASC, activity_id ASC").
		Find(&activities).Error
	if err != nil {
		s.logError(opListActivities, reasonQueryFailed, err, zap.String("contract_id", contractID))
		return nil, apperr.Internal(opListActivities, reasonQueryFailed, err)
	}
	return activities, nil
}

// Dashboard aggregates counts for one owner, or for every contract when ownerID is empty.
func (s *Service) Dashboard(ctx context.Context, ownerID string) (Summary, error) {
	query := s.db.WithContext(ctx).Model(&Contract{})
	if owner := strings.TrimSpace(ownerID); owner != "" {
		query = query.Where(queryOwnerID, owner)
	}
	var statuses []Status
	if err := query.Pluck("status", &statuses).Error; err != nil {
		s.logError(opDashboard, reasonQueryFailed, err, zap.String("user_id", ownerID))
		return Summary{}, apperr.Internal(opDashboard, reasonQueryFailed, err)
	}
	return Summarize(statuses), nil
}

func (s *Service) appendActivity(tx *gorm.DB, userID string, action Action, contractID string, at time.Time) error {
	activityID, err := s.idProvider.NewID()
	if err != nil {
		return apperr.Internal(opTransition, "id_generation_failed", err)
	}
	activity := Activity{
		ActivityID: activityID,
		UserID:     userID,
		Action:     action,
		ContractID: contractID,
		OccurredAt: at,
	}
	if err := tx.Create(&activity).Error; err != nil {
		return apperr.Internal(opTransition, "activity_insert_failed", err)
	}
	return nil
}

func (s *Service) publishChange(contract Contract) {
	s.publisher.Publish(realtime.Message{
		UserID:      contract.OwnerID,
		EventType:   realtime.EventContractChanged,
		ContractIDs: []string{contract.ID},
		Status:      string(contract.Status),
		Timestamp:   contract.UpdatedAt,
	})
}

// planOf labels quota metrics; lookups are best effort.
func (s *Service) planOf(ctx context.Context, userID string) string {
	var record plans.Record
	if err := s.db.WithContext(ctx).Select("plan").Where("user_id = ?", userID).Take(&record).Error; err != nil {
		return string(plans.PlanFree)
	}
	return record.Plan.Effective().String()
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("contracts service error", attrs...)
}

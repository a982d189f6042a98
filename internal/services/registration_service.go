package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/greentrace/internal/models"
)

// RegistrationService persists the worker registration so restarts can skip a redundant install.
type RegistrationService struct {
	db *gorm.DB
}

// NewRegistrationService constructs a registration service once a database handle is supplied.
func NewRegistrationService(db *gorm.DB) (*RegistrationService, error) {
	if db == nil {
		return nil, errors.New("registration service: db is required")
	}
	return &RegistrationService{db: db}, nil
}

func ensuredContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// Load returns the registration for scope, or nil when none has been saved yet.
func (s *RegistrationService) Load(ctx context.Context, scope string) (*models.WorkerRegistration, error) {
	if s == nil {
		return nil, errors.New("registration service: service not initialised")
	}
	ctx = ensuredContext(ctx)

	var reg models.WorkerRegistration
	err := s.db.WithContext(ctx).Take(&reg, "scope = ?", normalizeScope(scope)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

// Save upserts the registration keyed by its scope.
func (s *RegistrationService) Save(ctx context.Context, reg *models.WorkerRegistration) error {
	if s == nil {
		return errors.New("registration service: service not initialised")
	}
	if reg == nil {
		return errors.New("registration service: registration is required")
	}
	ctx = ensuredContext(ctx)

	reg.Scope = normalizeScope(reg.Scope)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "scope"}},
		DoUpdates: clause.AssignmentColumns([]string{"active_version", "state", "installed_at", "activated_at", "updated_at"}),
	}).Create(reg).Error
}

func normalizeScope(scope string) string {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return "/"
	}
	return scope
}

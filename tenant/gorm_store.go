package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/typeflow/gateway"
)

// settingsRecord is the persisted shape of Settings. Provider configs
// are stored as a JSON column: they are read as a unit into a pool and
// never queried field-by-field.
type settingsRecord struct {
	TenantID        string `gorm:"primaryKey;size:64"`
	Name            string `gorm:"size:128"`
	DefaultProvider string `gorm:"size:32"`
	CacheEnabled    bool
	CacheTTLMs      int64
	ProvidersJSON   string `gorm:"type:text"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (settingsRecord) TableName() string { return "tenant_ai_settings" }

// GormStore persists tenant settings through GORM. The driver is a
// composition-root choice; tests use the pure-Go sqlite driver.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore migrates the settings table and returns the store.
func NewGormStore(db *gorm.DB, logger *zap.Logger) (*GormStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&settingsRecord{}); err != nil {
		return nil, fmt.Errorf("migrating tenant settings table: %w", err)
	}
	return &GormStore{
		db:     db,
		logger: logger.With(zap.String("component", "tenant_store")),
	}, nil
}

// Get implements Store.
func (s *GormStore) Get(ctx context.Context, tenantID string) (*Settings, error) {
	var rec settingsRecord
	err := s.db.WithContext(ctx).First(&rec, "tenant_id = ?", tenantID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec.toSettings()
}

// Put implements Store. It upserts on the tenant ID.
func (s *GormStore) Put(ctx context.Context, settings *Settings) error {
	rec, err := toRecord(settings)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Save(rec).Error
}

// Delete implements Store.
func (s *GormStore) Delete(ctx context.Context, tenantID string) error {
	return s.db.WithContext(ctx).Delete(&settingsRecord{}, "tenant_id = ?", tenantID).Error
}

// List implements Store.
func (s *GormStore) List(ctx context.Context) ([]Settings, error) {
	var recs []settingsRecord
	if err := s.db.WithContext(ctx).Order("tenant_id").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]Settings, 0, len(recs))
	for _, rec := range recs {
		settings, err := rec.toSettings()
		if err != nil {
			s.logger.Warn("skipping tenant with corrupt provider configs",
				zap.String("tenant", rec.TenantID),
				zap.Error(err))
			continue
		}
		out = append(out, *settings)
	}
	return out, nil
}

func (r *settingsRecord) toSettings() (*Settings, error) {
	var providers []gateway.ProviderConfig
	if r.ProvidersJSON != "" {
		if err := json.Unmarshal([]byte(r.ProvidersJSON), &providers); err != nil {
			return nil, fmt.Errorf("decoding provider configs for tenant %s: %w", r.TenantID, err)
		}
	}
	return &Settings{
		TenantID:        r.TenantID,
		Name:            r.Name,
		DefaultProvider: r.DefaultProvider,
		CacheEnabled:    r.CacheEnabled,
		CacheTTL:        time.Duration(r.CacheTTLMs) * time.Millisecond,
		Providers:       providers,
	}, nil
}

func toRecord(s *Settings) (*settingsRecord, error) {
	data, err := json.Marshal(s.Providers)
	if err != nil {
		return nil, fmt.Errorf("encoding provider configs for tenant %s: %w", s.TenantID, err)
	}
	return &settingsRecord{
		TenantID:        s.TenantID,
		Name:            s.Name,
		DefaultProvider: s.DefaultProvider,
		CacheEnabled:    s.CacheEnabled,
		CacheTTLMs:      s.CacheTTL.Milliseconds(),
		ProvidersJSON:   string(data),
	}, nil
}

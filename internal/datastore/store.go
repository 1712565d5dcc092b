// Package datastore persists notification preferences (slots, bundle
// switches and the do-not-disturb date) in SQLite or MySQL through GORM.
package datastore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/openans/ansd/internal/conf"
	"github.com/openans/ansd/internal/errors"
	"github.com/openans/ansd/internal/logger"
	"github.com/openans/ansd/internal/notification"
)

// slowQueryThreshold marks queries logged as slow.
const slowQueryThreshold = 200 * time.Millisecond

// Store is a GORM backed notification.PreferenceStore.
type Store struct {
	db     *gorm.DB
	dbType string
	log    logger.Logger
}

var _ notification.PreferenceStore = (*Store)(nil)

type options struct {
	metrics QueryMetrics
}

// Option configures Open.
type Option func(*options)

// WithQueryMetrics records every SQL statement in m.
func WithQueryMetrics(m QueryMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// Open opens the store selected by settings. The memory type has no
// database and is handled by the caller.
func Open(settings *conf.StoreSettings, opts ...Option) (*Store, error) {
	switch settings.Type {
	case "sqlite":
		return OpenSQLite(settings.Path, opts...)
	case "mysql":
		m := settings.MySQL
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			m.Username, m.Password, m.Host, m.Port, m.Database)
		return OpenMySQL(dsn, opts...)
	default:
		return nil, errors.Newf("unsupported store type %q", settings.Type).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// OpenSQLite opens or creates the SQLite database at path.
func OpenSQLite(path string, opts ...Option) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.New(err).
				Component("datastore").
				Category(errors.CategoryFileIO).
				Context("path", path).
				Build()
		}
	}
	return open(sqlite.Open(path), "sqlite", path, opts)
}

// OpenMySQL connects with a go-sql-driver DSN.
func OpenMySQL(dsn string, opts ...Option) (*Store, error) {
	return open(mysql.Open(dsn), "mysql", "", opts)
}

func open(dialector gorm.Dialector, dbType, location string, opts []Option) (*Store, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	log := GetLogger().With(logger.String("db_type", dbType))

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newQueryLogger(log, dbType, slowQueryThreshold, o.metrics),
	})
	if err != nil {
		log.Error("Failed to open database", logger.Error(err))
		return nil, dbError(err, "open")
	}

	migrationStart := time.Now()
	if err := db.AutoMigrate(&SlotRecord{}, &BundleSettingsRecord{}, &DoNotDisturbRecord{}); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, dbError(err, "migrate")
	}

	log.Info("Preference store opened",
		logger.String("location", location),
		logger.Duration("migration_duration", time.Since(migrationStart)))

	return &Store{db: db, dbType: dbType, log: log}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return dbError(err, "close")
	}
	if err := sqlDB.Close(); err != nil {
		return dbError(err, "close")
	}
	s.log.Debug("Preference store closed")
	return nil
}

func dbError(err error, op string) error {
	return errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", op).
		Build()
}

// GetSlots returns the bundle's slots ordered by type.
func (s *Store) GetSlots(ctx context.Context, bundle string) ([]notification.Slot, error) {
	var records []SlotRecord
	err := s.db.WithContext(ctx).
		Where("bundle = ?", bundle).
		Order("slot_type").
		Find(&records).Error
	if err != nil {
		return nil, dbError(err, "get_slots")
	}

	slots := make([]notification.Slot, 0, len(records))
	for i := range records {
		slots = append(slots, records[i].toSlot())
	}
	return slots, nil
}

// GetSlot returns one slot and whether it exists.
func (s *Store) GetSlot(ctx context.Context, bundle string, slotType notification.SlotType) (notification.Slot, bool, error) {
	var records []SlotRecord
	err := s.db.WithContext(ctx).
		Where("bundle = ? AND slot_type = ?", bundle, int(slotType)).
		Limit(1).
		Find(&records).Error
	if err != nil {
		return notification.Slot{}, false, dbError(err, "get_slot")
	}
	if len(records) == 0 {
		return notification.Slot{}, false, nil
	}
	return records[0].toSlot(), true, nil
}

// SaveSlots upserts slots keyed by type.
func (s *Store) SaveSlots(ctx context.Context, bundle string, slots []notification.Slot) error {
	if len(slots) == 0 {
		return nil
	}

	records := make([]SlotRecord, 0, len(slots))
	for i := range slots {
		records = append(records, slotToRecord(bundle, &slots[i]))
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&records).Error
	if err != nil {
		return dbError(err, "save_slots")
	}
	return nil
}

// DeleteSlot deletes one slot and reports whether it existed.
func (s *Store) DeleteSlot(ctx context.Context, bundle string, slotType notification.SlotType) (bool, error) {
	result := s.db.WithContext(ctx).
		Where("bundle = ? AND slot_type = ?", bundle, int(slotType)).
		Delete(&SlotRecord{})
	if result.Error != nil {
		return false, dbError(result.Error, "delete_slot")
	}
	return result.RowsAffected > 0, nil
}

// DeleteAllSlots deletes every slot of the bundle.
func (s *Store) DeleteAllSlots(ctx context.Context, bundle string) error {
	err := s.db.WithContext(ctx).
		Where("bundle = ?", bundle).
		Delete(&SlotRecord{}).Error
	if err != nil {
		return dbError(err, "delete_all_slots")
	}
	return nil
}

// GetBundleSettings returns the stored switches or the defaults.
func (s *Store) GetBundleSettings(ctx context.Context, bundle string) (notification.BundleSettings, error) {
	var records []BundleSettingsRecord
	err := s.db.WithContext(ctx).
		Where("bundle = ?", bundle).
		Limit(1).
		Find(&records).Error
	if err != nil {
		return notification.BundleSettings{}, dbError(err, "get_bundle_settings")
	}
	if len(records) == 0 {
		return notification.DefaultBundleSettings(), nil
	}
	return notification.BundleSettings{
		BadgeEnabled:        records[0].BadgeEnabled,
		NotificationEnabled: records[0].NotificationEnabled,
	}, nil
}

// SaveBundleSettings upserts the bundle's switches.
func (s *Store) SaveBundleSettings(ctx context.Context, bundle string, settings notification.BundleSettings) error {
	record := BundleSettingsRecord{
		Bundle:              bundle,
		BadgeEnabled:        settings.BadgeEnabled,
		NotificationEnabled: settings.NotificationEnabled,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&record).Error
	if err != nil {
		return dbError(err, "save_bundle_settings")
	}
	return nil
}

// GetDoNotDisturbDate returns the stored date or the unset default.
func (s *Store) GetDoNotDisturbDate(ctx context.Context) (notification.DoNotDisturbDate, error) {
	var records []DoNotDisturbRecord
	err := s.db.WithContext(ctx).
		Where("id = ?", doNotDisturbRowID).
		Limit(1).
		Find(&records).Error
	if err != nil {
		return notification.DoNotDisturbDate{}, dbError(err, "get_dnd")
	}
	if len(records) == 0 {
		return notification.DefaultDoNotDisturbDate(), nil
	}
	return records[0].toDate(), nil
}

// SaveDoNotDisturbDate replaces the do-not-disturb date.
func (s *Store) SaveDoNotDisturbDate(ctx context.Context, date notification.DoNotDisturbDate) error {
	record := DoNotDisturbRecord{
		ID:       doNotDisturbRowID,
		DndType:  int(date.Type),
		BeginsAt: date.Begin.UTC(),
		EndsAt:   date.End.UTC(),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&record).Error
	if err != nil {
		return dbError(err, "save_dnd")
	}
	return nil
}

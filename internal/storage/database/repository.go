package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/article-autopilot/internal/models"
	"github.com/article-autopilot/internal/storage"
)

// Config selects the database backend
type Config struct {
	Driver string // sqlite or postgres
	DSN    string
}

// Repository implements storage.Repository on top of gorm
type Repository struct {
	db *gorm.DB
}

// New opens the configured database
func New(cfg Config) (*Repository, error) {
	var dialector gorm.Dialector

	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite":
		if dir := filepath.Dir(cfg.DSN); dir != "." && dir != "" && !strings.HasPrefix(cfg.DSN, "file:") && cfg.DSN != ":memory:" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		dialector = sqlite.Open(withBusyTimeout(cfg.DSN))
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialector.Name() == "sqlite" {
		// SQLite allows one writer; serialize through a single connection
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access database handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return &Repository{db: db}, nil
}

// withBusyTimeout makes SQLite wait for a competing writer, such as the CLI
// running next to the daemon, instead of failing with "database is locked"
func withBusyTimeout(dsn string) string {
	if strings.Contains(dsn, "busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)"
}

// Migrate runs database migrations
func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(
		&models.Source{},
		&models.Article{},
		&models.Setting{},
		&models.ProviderUsage{},
		&models.ScheduleConfig{},
	)
}

// Ping checks the connection is alive
func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Reconnect drops pooled connections so the next query dials afresh, then
// pings
func (r *Repository) Reconnect(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	idle := sqlDB.Stats().Idle
	sqlDB.SetMaxIdleConns(0)
	sqlDB.SetMaxIdleConns(max(idle, 2))
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.ErrNotFound
	}
	return err
}

// Source operations

func (r *Repository) CreateSource(ctx context.Context, source *models.Source) error {
	return r.db.WithContext(ctx).Create(source).Error
}

func (r *Repository) GetSourceByID(ctx context.Context, id uint) (*models.Source, error) {
	var source models.Source
	if err := r.db.WithContext(ctx).First(&source, id).Error; err != nil {
		return nil, translate(err)
	}
	return &source, nil
}

func (r *Repository) ListSources(ctx context.Context, enabledOnly bool) ([]*models.Source, error) {
	var sources []*models.Source
	query := r.db.WithContext(ctx).Model(&models.Source{})
	if enabledOnly {
		query = query.Where("enabled = ?", true)
	}
	if err := query.Order("id ASC").Find(&sources).Error; err != nil {
		return nil, err
	}
	return sources, nil
}

func (r *Repository) UpdateSource(ctx context.Context, source *models.Source) error {
	return r.db.WithContext(ctx).Save(source).Error
}

func (r *Repository) TouchSourceCrawl(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Source{}).
		Where("id = ?", id).
		Update("last_crawl_at", at).Error
}

// Article operations

func (r *Repository) CreateArticle(ctx context.Context, article *models.Article) error {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(article)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrDuplicate
	}
	return nil
}

func (r *Repository) GetArticleByID(ctx context.Context, id uint) (*models.Article, error) {
	var article models.Article
	if err := r.db.WithContext(ctx).First(&article, id).Error; err != nil {
		return nil, translate(err)
	}
	return &article, nil
}

func (r *Repository) articleQuery(ctx context.Context, filter storage.ArticleFilter) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&models.Article{})

	if filter.Published != nil {
		query = query.Where("is_published = ?", *filter.Published)
	}
	if filter.SourceID != nil {
		query = query.Where("source_id = ?", *filter.SourceID)
	}
	if filter.PublishedAfter != nil {
		query = query.Where("published_at >= ?", *filter.PublishedAfter)
	}
	if filter.PublishedBefore != nil {
		query = query.Where("published_at < ?", *filter.PublishedBefore)
	}
	if filter.ExcludeFlagged {
		query = query.Where("quality_flagged = ?", false)
	}
	return query
}

func (r *Repository) ListArticles(ctx context.Context, filter storage.ArticleFilter) ([]*models.Article, error) {
	var articles []*models.Article
	query := r.articleQuery(ctx, filter)

	orderCol := "created_at"
	switch filter.OrderBy {
	case "published_at", "view_count", "created_at", "quality_score":
		orderCol = filter.OrderBy
	}
	if filter.OrderDesc {
		query = query.Order(orderCol + " DESC")
	} else {
		query = query.Order(orderCol + " ASC")
	}
	query = query.Order("id ASC")

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	if err := query.Find(&articles).Error; err != nil {
		return nil, err
	}
	return articles, nil
}

func (r *Repository) CountArticles(ctx context.Context, filter storage.ArticleFilter) (int64, error) {
	var count int64
	if err := r.articleQuery(ctx, filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *Repository) exists(ctx context.Context, where string, arg interface{}) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Article{}).
		Where(where, arg).
		Limit(1).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *Repository) ArticleExistsByURL(ctx context.Context, sourceURL string) (bool, error) {
	if sourceURL == "" {
		return false, nil
	}
	return r.exists(ctx, "source_url = ?", sourceURL)
}

func (r *Repository) ArticleExistsByFingerprint(ctx context.Context, fingerprint string) (bool, error) {
	return r.exists(ctx, "fingerprint = ?", fingerprint)
}

func (r *Repository) ArticleExistsByTitle(ctx context.Context, title string) (bool, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return false, nil
	}
	return r.exists(ctx, "LOWER(title) = ?", strings.ToLower(title))
}

func (r *Repository) PublishArticles(ctx context.Context, ids []uint, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).
		Model(&models.Article{}).
		Where("id IN ? AND is_published = ?", ids, false).
		Updates(map[string]interface{}{
			"is_published": true,
			"published_at": at,
		})
	return result.RowsAffected, result.Error
}

func (r *Repository) DeleteArticles(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).Delete(&models.Article{}, ids)
	return result.RowsAffected, result.Error
}

func (r *Repository) IncrementArticleViews(ctx context.Context, id uint, delta int) error {
	result := r.db.WithContext(ctx).
		Model(&models.Article{}).
		Where("id = ?", id).
		UpdateColumn("view_count", gorm.Expr("view_count + ?", delta))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Settings operations

func (r *Repository) GetSetting(ctx context.Context, key string) (string, error) {
	var setting models.Setting
	if err := r.db.WithContext(ctx).Where(&models.Setting{Key: key}).First(&setting).Error; err != nil {
		return "", translate(err)
	}
	return setting.Value, nil
}

func (r *Repository) ListSettings(ctx context.Context) (map[string]string, error) {
	var settings []models.Setting
	if err := r.db.WithContext(ctx).Find(&settings).Error; err != nil {
		return nil, err
	}
	out := make(map[string]string, len(settings))
	for _, s := range settings {
		out[s.Key] = s.Value
	}
	return out, nil
}

func (r *Repository) SetSetting(ctx context.Context, key, value string) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&models.Setting{Key: key, Value: value}).Error
}

func (r *Repository) SetSettingIfMissing(ctx context.Context, key, value string) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.Setting{Key: key, Value: value})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Usage operations

func (r *Repository) GetUsage(ctx context.Context, key string) (*models.ProviderUsage, error) {
	var usage models.ProviderUsage
	if err := r.db.WithContext(ctx).Where(&models.ProviderUsage{Key: key}).First(&usage).Error; err != nil {
		return nil, translate(err)
	}
	return &usage, nil
}

// ReserveUsage checks and increments the three windows in one conditional
// UPDATE, so concurrent reservations from any process never exceed the ceiling
func (r *Repository) ReserveUsage(ctx context.Context, seed *models.ProviderUsage, ceiling storage.UsageCeiling) (bool, error) {
	granted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := prepareUsage(tx, seed); err != nil {
			return err
		}
		result := tx.Model(&models.ProviderUsage{}).
			Where("key = ? AND request_count < ? AND hour_count < ? AND minute_count < ?",
				seed.Key, ceiling.Daily, ceiling.Hourly, ceiling.Minute).
			Updates(map[string]interface{}{
				"request_count": gorm.Expr("request_count + 1"),
				"hour_count":    gorm.Expr("hour_count + 1"),
				"minute_count":  gorm.Expr("minute_count + 1"),
			})
		if result.Error != nil {
			return result.Error
		}
		granted = result.RowsAffected == 1
		return nil
	})
	return granted, err
}

func (r *Repository) RecordUsageOutcome(ctx context.Context, seed *models.ProviderUsage, success bool) error {
	column := "error_count"
	if success {
		column = "success_count"
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := prepareUsage(tx, seed); err != nil {
			return err
		}
		return tx.Model(&models.ProviderUsage{}).
			Where("key = ?", seed.Key).
			UpdateColumn(column, gorm.Expr(column+" + 1")).Error
	})
}

// prepareUsage inserts seed's row when missing and moves stale hour and
// minute buckets forward to seed's, zeroing their counts. Buckets never move
// backwards.
func prepareUsage(tx *gorm.DB, seed *models.ProviderUsage) error {
	row := *seed
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return err
	}
	if err := tx.Model(&models.ProviderUsage{}).
		Where("key = ? AND hour_bucket < ?", seed.Key, seed.HourBucket).
		Updates(map[string]interface{}{"hour_bucket": seed.HourBucket, "hour_count": 0}).Error; err != nil {
		return err
	}
	return tx.Model(&models.ProviderUsage{}).
		Where("key = ? AND minute_bucket < ?", seed.Key, seed.MinuteBucket).
		Updates(map[string]interface{}{"minute_bucket": seed.MinuteBucket, "minute_count": 0}).Error
}

// Schedule operations

func (r *Repository) GetScheduleConfig(ctx context.Context) (*models.ScheduleConfig, error) {
	var cfg models.ScheduleConfig
	if err := r.db.WithContext(ctx).First(&cfg, models.ScheduleConfigID).Error; err != nil {
		return nil, translate(err)
	}
	return &cfg, nil
}

func (r *Repository) SaveScheduleConfig(ctx context.Context, cfg *models.ScheduleConfig) error {
	cfg.ID = models.ScheduleConfigID
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(cfg).Error
}

// Ensure Repository implements storage.Repository
var _ storage.Repository = (*Repository)(nil)

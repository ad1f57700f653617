package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"craftai/pkg/domain"
)

const migrateLockID int64 = 48214821

// likeToggleAttempts bounds the optimistic retry loop for ToggleLike.
const likeToggleAttempts = 5

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&CreationModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveCreation inserts or replaces a creation record.
func (s *GormStore) SaveCreation(c domain.Creation) error {
	model, err := creationToModel(c)
	if err != nil {
		return err
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"content", "published", "likers", "updated_at"}),
	}).Create(&model).Error
}

// GetCreation retrieves a creation by ID.
func (s *GormStore) GetCreation(id string) (domain.Creation, bool, error) {
	var model CreationModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Creation{}, false, nil
		}
		return domain.Creation{}, false, err
	}
	c, err := creationFromModel(model)
	if err != nil {
		return domain.Creation{}, false, err
	}
	return c, true, nil
}

// ListByOwner returns the owner's creations, newest first.
func (s *GormStore) ListByOwner(ownerID string) ([]domain.Creation, error) {
	var models []CreationModel
	if err := s.db.Where("owner_id = ?", ownerID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	return creationsFromModels(models)
}

// ListPublished returns published creations, newest first.
func (s *GormStore) ListPublished() ([]domain.Creation, error) {
	var models []CreationModel
	if err := s.db.Where("published = ?", true).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	return creationsFromModels(models)
}

// ToggleLike flips set membership for userID with a compare-and-swap retry on
// the likers column. Concurrent toggles on the same creation serialize on the
// jsonb equality guard instead of overwriting each other.
func (s *GormStore) ToggleLike(id, userID string) (bool, bool, error) {
	for attempt := 0; attempt < likeToggleAttempts; attempt++ {
		var model CreationModel
		if err := s.db.First(&model, "id = ?", id).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return false, false, nil
			}
			return false, false, err
		}
		likers, err := decodeLikers(model.Likers)
		if err != nil {
			return false, false, err
		}
		updated, liked := toggleMembership(likers, userID)
		encoded, err := json.Marshal(updated)
		if err != nil {
			return false, false, err
		}
		res := s.db.Model(&CreationModel{}).
			Where("id = ? AND likers = ?", id, model.Likers).
			Updates(map[string]any{
				"likers":     datatypes.JSON(encoded),
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return false, false, res.Error
		}
		if res.RowsAffected == 1 {
			return liked, true, nil
		}
	}
	return false, false, fmt.Errorf("toggle like: contention on creation %s", id)
}

// SetPublished flips the published flag.
func (s *GormStore) SetPublished(id string, published bool) (bool, error) {
	res := s.db.Model(&CreationModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"published":  published,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func toggleMembership(likers []string, userID string) ([]string, bool) {
	filtered := make([]string, 0, len(likers))
	found := false
	for _, id := range likers {
		if id == userID {
			found = true
			continue
		}
		filtered = append(filtered, id)
	}
	if found {
		return filtered, false
	}
	return append(filtered, userID), true
}

func decodeLikers(raw datatypes.JSON) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var likers []string
	if err := json.Unmarshal(raw, &likers); err != nil {
		return nil, fmt.Errorf("decode likers: %w", err)
	}
	return likers, nil
}

func creationToModel(c domain.Creation) (CreationModel, error) {
	likers := c.Likers
	if likers == nil {
		likers = []string{}
	}
	encoded, err := json.Marshal(likers)
	if err != nil {
		return CreationModel{}, fmt.Errorf("encode likers: %w", err)
	}
	return CreationModel{
		ID:        c.ID,
		OwnerID:   c.OwnerID,
		Prompt:    c.Prompt,
		Content:   c.Content,
		Kind:      string(c.Kind),
		Published: c.Published,
		Likers:    datatypes.JSON(encoded),
		CreatedAt: c.CreatedAt,
	}, nil
}

func creationFromModel(m CreationModel) (domain.Creation, error) {
	likers, err := decodeLikers(m.Likers)
	if err != nil {
		return domain.Creation{}, err
	}
	return domain.Creation{
		ID:        m.ID,
		OwnerID:   m.OwnerID,
		Prompt:    m.Prompt,
		Content:   m.Content,
		Kind:      domain.CreationKind(m.Kind),
		Published: m.Published,
		Likers:    likers,
		CreatedAt: m.CreatedAt,
	}, nil
}

func creationsFromModels(models []CreationModel) ([]domain.Creation, error) {
	res := make([]domain.Creation, 0, len(models))
	for _, m := range models {
		c, err := creationFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, nil
}

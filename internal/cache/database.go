package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/greentrace/internal/models"
)

// DatabaseStorage implements Storage on top of the embedded SQL database.
type DatabaseStorage struct {
	db *gorm.DB
}

// NewDatabaseStorage constructs a database-backed Storage.
func NewDatabaseStorage(db *gorm.DB) *DatabaseStorage {
	if db == nil {
		return nil
	}
	return &DatabaseStorage{db: db}
}

// Open returns the named partition, creating its row on first use.
func (s *DatabaseStorage) Open(ctx context.Context, name string) (Partition, error) {
	if s == nil {
		return nil, errors.New("cache: database storage not initialised")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("cache: partition name is required")
	}

	var partition models.CachePartition
	err := s.db.WithContext(ctx).
		Where(models.CachePartition{Name: name}).
		FirstOrCreate(&partition).Error
	if err != nil {
		// A concurrent Open may have inserted the row between the lookup and the insert.
		if retryErr := s.db.WithContext(ctx).Take(&partition, "name = ?", name).Error; retryErr != nil {
			return nil, fmt.Errorf("cache: open partition %q: %w", name, err)
		}
	}

	return &databasePartition{db: s.db, id: partition.ID, name: partition.Name}, nil
}

// Has reports whether the named partition exists.
func (s *DatabaseStorage) Has(ctx context.Context, name string) (bool, error) {
	if s == nil {
		return false, errors.New("cache: database storage not initialised")
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.CachePartition{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Keys lists partition names.
func (s *DatabaseStorage) Keys(ctx context.Context) ([]string, error) {
	if s == nil {
		return nil, errors.New("cache: database storage not initialised")
	}
	var names []string
	err := s.db.WithContext(ctx).
		Model(&models.CachePartition{}).
		Order("name ASC").
		Pluck("name", &names).Error
	return names, err
}

// Delete removes a partition and its entries in one transaction.
func (s *DatabaseStorage) Delete(ctx context.Context, name string) (bool, error) {
	if s == nil {
		return false, errors.New("cache: database storage not initialised")
	}

	deleted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var partition models.CachePartition
		err := tx.Take(&partition, "name = ?", name).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		if err := tx.Where("partition_id = ?", partition.ID).Delete(&models.CacheEntry{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&partition).Error; err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("cache: delete partition %q: %w", name, err)
	}
	return deleted, nil
}

type databasePartition struct {
	db   *gorm.DB
	id   string
	name string
}

func (p *databasePartition) Name() string {
	return p.name
}

func (p *databasePartition) Match(ctx context.Context, key Key) (*Response, bool, error) {
	var entry models.CacheEntry
	err := p.db.WithContext(ctx).
		Take(&entry, "partition_id = ? AND method = ? AND url = ?", p.id, key.Method, key.URL).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	resp, err := entryToResponse(entry)
	if err != nil {
		return nil, false, err
	}
	return resp, true, nil
}

func (p *databasePartition) Put(ctx context.Context, key Key, resp *Response) error {
	return p.PutAll(ctx, []Entry{{Key: key, Response: resp}})
}

func (p *databasePartition) PutAll(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := validEntries(entries); err != nil {
		return err
	}

	rows := make([]models.CacheEntry, 0, len(entries))
	for _, entry := range entries {
		row, err := p.responseToEntry(entry.Key, entry.Response)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "partition_id"}, {Name: "method"}, {Name: "url"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "header", "body", "digest", "updated_at",
			}),
		}).Create(&rows).Error
	})
}

func (p *databasePartition) Delete(ctx context.Context, key Key) (bool, error) {
	result := p.db.WithContext(ctx).
		Where("partition_id = ? AND method = ? AND url = ?", p.id, key.Method, key.URL).
		Delete(&models.CacheEntry{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (p *databasePartition) Keys(ctx context.Context) ([]Key, error) {
	var rows []models.CacheEntry
	err := p.db.WithContext(ctx).
		Select("method", "url").
		Where("partition_id = ?", p.id).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	keys := make([]Key, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, Key{Method: row.Method, URL: row.URL})
	}
	sortKeys(keys)
	return keys, nil
}

func (p *databasePartition) responseToEntry(key Key, resp *Response) (models.CacheEntry, error) {
	header, err := json.Marshal(resp.Header)
	if err != nil {
		return models.CacheEntry{}, fmt.Errorf("cache: encode headers: %w", err)
	}
	body := resp.Body
	if body == nil {
		body = []byte{}
	}
	return models.CacheEntry{
		PartitionID: p.id,
		Method:      key.Method,
		URL:         key.URL,
		Status:      resp.Status,
		Header:      datatypes.JSON(header),
		Body:        body,
		Digest:      resp.Digest(),
	}, nil
}

func entryToResponse(entry models.CacheEntry) (*Response, error) {
	header := make(http.Header)
	if len(entry.Header) > 0 && string(entry.Header) != "null" {
		if err := json.Unmarshal(entry.Header, &header); err != nil {
			return nil, fmt.Errorf("cache: decode headers: %w", err)
		}
	}
	return &Response{
		Status: entry.Status,
		Header: header,
		Body:   entry.Body,
	}, nil
}

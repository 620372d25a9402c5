// Package library persists collections (playlists) and their songs in
// sqlite. Song audio is stored base64-encoded, the same binary-as-text form
// it travels in over the transfer protocol.
package library

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Collection struct {
	ID        string `gorm:"primaryKey"`
	Name      string
	CreatedAt int64
}

type Song struct {
	ID           uint   `gorm:"primaryKey"`
	CollectionID string `gorm:"index;not null"`
	Idx          int
	Title        string
	Artist       string
	Album        string
	Duration     float64
	Data         string
}

// CollectionInfo is the listing row exposed to peers.
type CollectionInfo struct {
	ID        string
	Name      string
	ItemCount int
}

type Library struct {
	db *gorm.DB
}

// Open opens (or creates) the library database at path. Use ":memory:" for
// an ephemeral library.
func Open(path string) (*Library, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open library db %s: %w", path, err)
	}
	if path == ":memory:" {
		// Every pooled connection gets its own in-memory database; pin the
		// pool to one so the schema and data stay visible.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("access connection pool: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&Collection{}, &Song{}); err != nil {
		return nil, fmt.Errorf("migrate library schema: %w", err)
	}
	return &Library{db: db}, nil
}

// CreateCollection creates a named collection and returns its id.
func (l *Library) CreateCollection(ctx context.Context, name string) (string, error) {
	c := Collection{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now().Unix(),
	}
	if err := l.db.WithContext(ctx).Create(&c).Error; err != nil {
		return "", fmt.Errorf("create collection %q: %w", name, err)
	}
	return c.ID, nil
}

// CollectionName resolves a collection's display name.
func (l *Library) CollectionName(ctx context.Context, collectionID string) (string, error) {
	var c Collection
	if err := l.db.WithContext(ctx).First(&c, "id = ?", collectionID).Error; err != nil {
		return "", fmt.Errorf("collection %s: %w", collectionID, err)
	}
	return c.Name, nil
}

// Collections lists all collections with their song counts.
func (l *Library) Collections(ctx context.Context) ([]CollectionInfo, error) {
	var collections []Collection
	if err := l.db.WithContext(ctx).Order("created_at").Find(&collections).Error; err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}

	infos := make([]CollectionInfo, 0, len(collections))
	for _, c := range collections {
		count, err := l.CountSongs(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		infos = append(infos, CollectionInfo{ID: c.ID, Name: c.Name, ItemCount: count})
	}
	return infos, nil
}

// AppendSong stores one song in a collection. A zero Idx is assigned the
// next free index when songs already exist.
func (l *Library) AppendSong(ctx context.Context, collectionID string, song Song) error {
	song.CollectionID = collectionID
	if err := l.db.WithContext(ctx).Create(&song).Error; err != nil {
		return fmt.Errorf("append song to %s: %w", collectionID, err)
	}
	return nil
}

// CountSongs returns how many songs a collection holds.
func (l *Library) CountSongs(ctx context.Context, collectionID string) (int, error) {
	var count int64
	err := l.db.WithContext(ctx).Model(&Song{}).
		Where("collection_id = ?", collectionID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count songs in %s: %w", collectionID, err)
	}
	return int(count), nil
}

// ListSongs returns one page of a collection's songs in index order.
func (l *Library) ListSongs(ctx context.Context, collectionID string, limit, offset int) ([]Song, error) {
	var songs []Song
	err := l.db.WithContext(ctx).
		Where("collection_id = ?", collectionID).
		Order("idx").Limit(limit).Offset(offset).
		Find(&songs).Error
	if err != nil {
		return nil, fmt.Errorf("list songs in %s: %w", collectionID, err)
	}
	return songs, nil
}

// ImportFile reads an audio file from disk, base64-encodes it, and appends
// it to a collection at the next free index. Title defaults to the file's
// base name.
func (l *Library) ImportFile(ctx context.Context, collectionID, path, title, artist, album string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if title == "" {
		title = filepath.Base(path)
	}

	count, err := l.CountSongs(ctx, collectionID)
	if err != nil {
		return err
	}
	return l.AppendSong(ctx, collectionID, Song{
		Idx:    count,
		Title:  title,
		Artist: artist,
		Album:  album,
		Data:   base64.StdEncoding.EncodeToString(raw),
	})
}

// SongAt returns the song at position idx within a collection.
func (l *Library) SongAt(ctx context.Context, collectionID string, idx int) (Song, error) {
	var song Song
	err := l.db.WithContext(ctx).
		Where("collection_id = ? AND idx = ?", collectionID, idx).
		First(&song).Error
	if err != nil {
		return Song{}, fmt.Errorf("song %d in %s: %w", idx, collectionID, err)
	}
	return song, nil
}

// Package content tracks news items across pipeline stages on top of the
// cache store.
package content

import (
	"fmt"
	"time"

	"github.com/law-makers/newsfetch/internal/cache"
	"github.com/law-makers/newsfetch/internal/logging"
	"github.com/law-makers/newsfetch/pkg/models"
)

// Adapter maps news items keyed by URL onto a cache.Store
type Adapter struct {
	store *cache.Store
	now   func() time.Time
}

// New creates an Adapter over store
func New(store *cache.Store) *Adapter {
	return &Adapter{store: store, now: time.Now}
}

// Store returns the underlying store
func (a *Adapter) Store() *cache.Store {
	return a.store
}

// UpdateCache records newly seen items with an empty ledger. Items already
// known keep their record and ledger. It returns how many were added.
func (a *Adapter) UpdateCache(items []models.NewsItem) (int, error) {
	now := a.now().Format(time.RFC3339)

	fresh := make(map[string]any, len(items))
	for _, item := range items {
		if item.URL == "" {
			continue
		}
		if item.FirstSeen == "" {
			item.FirstSeen = now
		}
		if _, dup := fresh[item.URL]; !dup {
			fresh[item.URL] = item
		}
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	added, err := a.store.PutMissing(fresh)
	if err != nil {
		return 0, fmt.Errorf("update news cache: %w", err)
	}

	logging.WithComponent("content").Info().
		Int("received", len(items)).
		Int("added", added).
		Msg("News cache updated")
	return added, nil
}

// GetUnprocessed returns the items stage has not consumed, oldest first
func (a *Adapter) GetUnprocessed(stage string) []models.NewsItem {
	logger := logging.WithComponent("content")

	ids := a.store.GetUnprocessed(stage)
	items := make([]models.NewsItem, 0, len(ids))
	for _, id := range ids {
		var item models.NewsItem
		ok, err := a.store.Get(id, &item)
		if err != nil {
			logger.Warn().Err(err).Str("url", id).Msg("Skipping unreadable news item")
			continue
		}
		if !ok {
			continue
		}
		if item.URL == "" {
			item.URL = id
		}
		items = append(items, item)
	}
	return items
}

// MarkProcessed records that stage consumed the item at url
func (a *Adapter) MarkProcessed(url, stage string) error {
	return a.store.MarkProcessed(url, stage)
}

// IsProcessed reports whether stage consumed the item at url
func (a *Adapter) IsProcessed(url, stage string) bool {
	return a.store.IsProcessedByStage(url, stage)
}

// IsCached reports whether url is a known item
func (a *Adapter) IsCached(url string) bool {
	return a.store.IsCached(url)
}

// MarkBatch marks every known url as consumed by stage
func (a *Adapter) MarkBatch(urls []string, stage string) (int, error) {
	return a.store.MarkBatch(urls, stage)
}

// ResetStage clears stage from every ledger so the stage runs again
func (a *Adapter) ResetStage(stage string) (int, error) {
	return a.store.ResetStage(stage)
}

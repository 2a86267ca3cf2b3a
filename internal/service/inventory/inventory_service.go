package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/sirupsen/logrus"

	"tripbook/internal/model"
	"tripbook/internal/repository"
	"tripbook/pkg/allocator"
	"tripbook/pkg/log"
	"tripbook/pkg/utils"
)

// DrawResult is the outcome of a blind-box draw: the item drawn and the
// destination resolved from its weight table.
type DrawResult struct {
	Item        *model.InventoryItem `json:"item"`
	Destination model.Destination    `json:"destination"`
}

// Store exposes inventory reads and stock mutations to the order and
// admin layers.
type Store interface {
	GetItem(ctx context.Context, id uint64) (*model.InventoryItem, error)
	ListActive(ctx context.Context, kind model.ItemKind, page, pageSize int) ([]*model.InventoryItem, int64, error)
	CreateItem(ctx context.Context, item *model.InventoryItem) error
	Allocate(ctx context.Context, itemID uint64, quantity int) error
	Release(ctx context.Context, itemID uint64, quantity int) error
	Draw(ctx context.Context, boxType string) (*DrawResult, error)
	DrawDestination(item *model.InventoryItem) (model.Destination, error)
}

type inventoryStore struct {
	repo  repository.ItemRepository
	cache *bigcache.BigCache
	alloc *allocator.Allocator
	mu    sync.Mutex // guards alloc, rand.Rand is not goroutine safe
}

// NewStore builds a Store with a read-through item cache. The cache holds
// item metadata only, stock counters are always authoritative in MySQL.
func NewStore(repo repository.ItemRepository, cacheTTL time.Duration) (Store, error) {
	cache, err := bigcache.New(context.Background(), bigcache.DefaultConfig(cacheTTL))
	if err != nil {
		return nil, fmt.Errorf("init item cache: %w", err)
	}

	return &inventoryStore{
		repo:  repo,
		cache: cache,
		alloc: allocator.New(rand.New(rand.NewSource(time.Now().UnixNano()))),
	}, nil
}

func itemCacheKey(id uint64) string {
	return fmt.Sprintf("item:%d", id)
}

func (s *inventoryStore) GetItem(ctx context.Context, id uint64) (*model.InventoryItem, error) {
	if data, err := s.cache.Get(itemCacheKey(id)); err == nil {
		var item model.InventoryItem
		if jsonErr := json.Unmarshal(data, &item); jsonErr == nil {
			return &item, nil
		}
		// corrupt entry, fall through to DB
		_ = s.cache.Delete(itemCacheKey(id))
	}

	item, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(item); err == nil {
		_ = s.cache.Set(itemCacheKey(id), data)
	}
	return item, nil
}

func (s *inventoryStore) ListActive(ctx context.Context, kind model.ItemKind, page, pageSize int) ([]*model.InventoryItem, int64, error) {
	return s.repo.ListActive(ctx, kind, page, pageSize)
}

func (s *inventoryStore) CreateItem(ctx context.Context, item *model.InventoryItem) error {
	if !item.Kind.Valid() {
		return utils.NewError(utils.CodeInvalidParam, "unknown item kind")
	}
	if item.Kind == model.ItemKindBlindbox {
		if err := validateDestinations(item.Destinations); err != nil {
			return err
		}
	}
	if item.Status == 0 {
		item.Status = model.ItemStatusActive
	}
	return s.repo.Create(ctx, item)
}

func validateDestinations(dests model.DestinationList) error {
	if len(dests) == 0 {
		return utils.NewError(utils.CodeInvalidWeights, "blind box needs at least one destination")
	}
	total := 0
	for _, d := range dests {
		if d.Probability < 0 {
			return utils.NewError(utils.CodeInvalidWeights, "destination weight must not be negative")
		}
		total += d.Probability
	}
	if total <= 0 {
		return utils.NewError(utils.CodeInvalidWeights, "destination weights sum to zero")
	}
	return nil
}

func (s *inventoryStore) Allocate(ctx context.Context, itemID uint64, quantity int) error {
	if err := s.repo.Allocate(ctx, itemID, quantity); err != nil {
		return err
	}
	_ = s.cache.Delete(itemCacheKey(itemID))
	return nil
}

func (s *inventoryStore) Release(ctx context.Context, itemID uint64, quantity int) error {
	if err := s.repo.Release(ctx, itemID, quantity); err != nil {
		return err
	}
	_ = s.cache.Delete(itemCacheKey(itemID))
	return nil
}

// DrawDestination resolves a destination for a known blind-box item by its
// weight table. This is the draw that gets persisted on the order.
func (s *inventoryStore) DrawDestination(item *model.InventoryItem) (model.Destination, error) {
	entries := make([]allocator.Entry, 0, len(item.Destinations))
	for _, d := range item.Destinations {
		entries = append(entries, allocator.Entry{ID: d.SpotID, Weight: d.Probability})
	}

	s.mu.Lock()
	spotID, err := s.alloc.Draw(entries)
	s.mu.Unlock()
	if err != nil {
		return model.Destination{}, err
	}

	for _, d := range item.Destinations {
		if d.SpotID == spotID {
			return d, nil
		}
	}
	return model.Destination{}, utils.NewError(utils.CodeInternalError, "drawn destination not found on item")
}

// Draw picks an active in-stock blind box of the given type uniformly, then
// resolves a destination by its weight table. The result is advisory, the
// destination is persisted only when an order is actually placed.
func (s *inventoryStore) Draw(ctx context.Context, boxType string) (*DrawResult, error) {
	items, err := s.repo.ListActiveByBoxType(ctx, boxType)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, utils.NewError(utils.CodeItemNotFound, "no blind box available for this type")
	}

	ids := make([]uint64, 0, len(items))
	byID := make(map[uint64]*model.InventoryItem, len(items))
	for _, it := range items {
		if it.Stock <= 0 {
			continue
		}
		ids = append(ids, it.ID)
		byID[it.ID] = it
	}
	if len(ids) == 0 {
		return nil, utils.NewError(utils.CodeInsufficientStock, "all blind boxes of this type are sold out")
	}

	s.mu.Lock()
	itemID, err := s.alloc.PickUniform(ids)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	item := byID[itemID]

	entries := make([]allocator.Entry, 0, len(item.Destinations))
	for _, d := range item.Destinations {
		entries = append(entries, allocator.Entry{ID: d.SpotID, Weight: d.Probability})
	}
	spotID, err := s.alloc.Draw(entries)
	s.mu.Unlock()
	if err != nil {
		log.WithFields(logrus.Fields{
			"item_id":  item.ID,
			"box_type": boxType,
		}).WithError(err).Error("blind box has unusable destination weights")
		return nil, err
	}

	for _, d := range item.Destinations {
		if d.SpotID == spotID {
			return &DrawResult{Item: item, Destination: d}, nil
		}
	}
	// unreachable as long as Draw returns an ID from entries
	return nil, utils.NewError(utils.CodeInternalError, "drawn destination not found on item")
}

package inventory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"tripbook/internal/model"
	"tripbook/internal/repository"
	"tripbook/pkg/utils"
)

type mockItemRepo struct {
	mock.Mock
}

func (m *mockItemRepo) Create(ctx context.Context, item *model.InventoryItem) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

func (m *mockItemRepo) GetByID(ctx context.Context, id uint64) (*model.InventoryItem, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.InventoryItem), args.Error(1)
}

func (m *mockItemRepo) ListActiveByBoxType(ctx context.Context, boxType string) ([]*model.InventoryItem, error) {
	args := m.Called(ctx, boxType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.InventoryItem), args.Error(1)
}

func (m *mockItemRepo) ListActive(ctx context.Context, kind model.ItemKind, page, pageSize int) ([]*model.InventoryItem, int64, error) {
	args := m.Called(ctx, kind, page, pageSize)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*model.InventoryItem), args.Get(1).(int64), args.Error(2)
}

func (m *mockItemRepo) Allocate(ctx context.Context, id uint64, quantity int) error {
	args := m.Called(ctx, id, quantity)
	return args.Error(0)
}

func (m *mockItemRepo) Release(ctx context.Context, id uint64, quantity int) error {
	args := m.Called(ctx, id, quantity)
	return args.Error(0)
}

func newTestStore(t *testing.T, repo repository.ItemRepository) Store {
	t.Helper()

	store, err := NewStore(repo, time.Minute)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func boxType(s string) *string { return &s }

func blindboxItem(id uint64) *model.InventoryItem {
	return &model.InventoryItem{
		ID:        id,
		Name:      "Mystery mountain trip",
		Kind:      model.ItemKindBlindbox,
		BoxType:   boxType("mountain"),
		UnitPrice: 29900,
		Stock:     10,
		Status:    model.ItemStatusActive,
		Destinations: model.DestinationList{
			{SpotID: 11, Name: "Huangshan", Probability: 70},
			{SpotID: 12, Name: "Zhangjiajie", Probability: 30},
		},
	}
}

func TestGetItem_CachesSecondRead(t *testing.T) {
	repo := new(mockItemRepo)
	store := newTestStore(t, repo)

	repo.On("GetByID", mock.Anything, uint64(3)).Return(blindboxItem(3), nil).Once()

	item, err := store.GetItem(context.Background(), 3)
	assert.NoError(t, err)
	assert.Equal(t, uint64(3), item.ID)

	// second read is served from the cache; the mock would fail on a
	// second DB hit
	item, err = store.GetItem(context.Background(), 3)
	assert.NoError(t, err)
	assert.Equal(t, uint64(3), item.ID)
	repo.AssertExpectations(t)
}

func TestAllocate_InvalidatesCache(t *testing.T) {
	repo := new(mockItemRepo)
	store := newTestStore(t, repo)

	stocked := blindboxItem(3)
	drained := blindboxItem(3)
	drained.Stock = 9

	repo.On("GetByID", mock.Anything, uint64(3)).Return(stocked, nil).Once()
	repo.On("Allocate", mock.Anything, uint64(3), 1).Return(nil)
	repo.On("GetByID", mock.Anything, uint64(3)).Return(drained, nil).Once()

	_, err := store.GetItem(context.Background(), 3)
	assert.NoError(t, err)

	assert.NoError(t, store.Allocate(context.Background(), 3, 1))

	item, err := store.GetItem(context.Background(), 3)
	assert.NoError(t, err)
	assert.Equal(t, 9, item.Stock)
	repo.AssertExpectations(t)
}

func TestCreateItem_ValidatesKind(t *testing.T) {
	repo := new(mockItemRepo)
	store := newTestStore(t, repo)

	err := store.CreateItem(context.Background(), &model.InventoryItem{Name: "x", Kind: "mystery"})
	assert.Error(t, err)
	assert.Equal(t, utils.CodeInvalidParam, utils.GetErrorCode(err))
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestCreateItem_DefaultsToActive(t *testing.T) {
	repo := new(mockItemRepo)
	store := newTestStore(t, repo)

	repo.On("Create", mock.Anything, mock.Anything).Return(nil)

	item := &model.InventoryItem{Name: "West Lake day ticket", Kind: model.ItemKindSpot, UnitPrice: 9900, Stock: 50}
	assert.NoError(t, store.CreateItem(context.Background(), item))
	assert.Equal(t, int8(model.ItemStatusActive), item.Status)
}

func TestValidateDestinations(t *testing.T) {
	tests := []struct {
		name    string
		dests   model.DestinationList
		wantErr bool
	}{
		{
			name:    "empty list",
			dests:   model.DestinationList{},
			wantErr: true,
		},
		{
			name: "all zero weights",
			dests: model.DestinationList{
				{SpotID: 1, Probability: 0},
				{SpotID: 2, Probability: 0},
			},
			wantErr: true,
		},
		{
			name: "negative weight",
			dests: model.DestinationList{
				{SpotID: 1, Probability: 60},
				{SpotID: 2, Probability: -10},
			},
			wantErr: true,
		},
		{
			name: "weights need not sum to 100",
			dests: model.DestinationList{
				{SpotID: 1, Probability: 3},
				{SpotID: 2, Probability: 1},
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateDestinations(tt.dests)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, utils.CodeInvalidWeights, utils.GetErrorCode(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDrawDestination(t *testing.T) {
	repo := new(mockItemRepo)
	store := newTestStore(t, repo)

	item := blindboxItem(3)
	seen := map[uint64]bool{}
	for i := 0; i < 200; i++ {
		dest, err := store.DrawDestination(item)
		assert.NoError(t, err)
		seen[dest.SpotID] = true
	}
	// both weighted outcomes should show up over 200 draws
	assert.True(t, seen[11])
	assert.True(t, seen[12])
}

func TestDrawDestination_BadWeights(t *testing.T) {
	repo := new(mockItemRepo)
	store := newTestStore(t, repo)

	item := blindboxItem(3)
	item.Destinations = model.DestinationList{{SpotID: 11, Probability: 0}}

	_, err := store.DrawDestination(item)
	assert.ErrorIs(t, err, utils.ErrInvalidWeights)
}

func TestDraw(t *testing.T) {
	repo := new(mockItemRepo)
	store := newTestStore(t, repo)

	repo.On("ListActiveByBoxType", mock.Anything, "mountain").
		Return([]*model.InventoryItem{blindboxItem(3), blindboxItem(4)}, nil)

	result, err := store.Draw(context.Background(), "mountain")
	assert.NoError(t, err)
	assert.Contains(t, []uint64{3, 4}, result.Item.ID)
	assert.Contains(t, []uint64{11, 12}, result.Destination.SpotID)
}

func TestDraw_NoItems(t *testing.T) {
	repo := new(mockItemRepo)
	store := newTestStore(t, repo)

	repo.On("ListActiveByBoxType", mock.Anything, "desert").
		Return([]*model.InventoryItem{}, nil)

	_, err := store.Draw(context.Background(), "desert")
	assert.ErrorIs(t, err, utils.ErrItemNotFound)
}

func TestDraw_AllSoldOut(t *testing.T) {
	repo := new(mockItemRepo)
	store := newTestStore(t, repo)

	item := blindboxItem(3)
	item.Stock = 0
	repo.On("ListActiveByBoxType", mock.Anything, "mountain").
		Return([]*model.InventoryItem{item}, nil)

	_, err := store.Draw(context.Background(), "mountain")
	assert.ErrorIs(t, err, utils.ErrInsufficientStock)
}

// memItemRepo implements the conditional stock decrement in memory, so
// concurrent allocations can race for real instead of through scripted
// expectations.
type memItemRepo struct {
	mu    sync.Mutex
	items map[uint64]*model.InventoryItem
}

func newMemItemRepo(items ...*model.InventoryItem) *memItemRepo {
	r := &memItemRepo{items: make(map[uint64]*model.InventoryItem)}
	for _, item := range items {
		r.items[item.ID] = item
	}
	return r
}

func (r *memItemRepo) Create(ctx context.Context, item *model.InventoryItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[item.ID] = item
	return nil
}

func (r *memItemRepo) GetByID(ctx context.Context, id uint64) (*model.InventoryItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return nil, utils.ErrItemNotFound
	}
	copied := *item
	return &copied, nil
}

func (r *memItemRepo) ListActiveByBoxType(ctx context.Context, boxType string) ([]*model.InventoryItem, error) {
	return nil, nil
}

func (r *memItemRepo) ListActive(ctx context.Context, kind model.ItemKind, page, pageSize int) ([]*model.InventoryItem, int64, error) {
	return nil, 0, nil
}

func (r *memItemRepo) Allocate(ctx context.Context, id uint64, quantity int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return utils.ErrItemNotFound
	}
	if item.Status != model.ItemStatusActive || item.Stock < quantity {
		return utils.ErrInsufficientStock
	}
	item.Stock -= quantity
	item.SoldCount += quantity
	if item.Stock == 0 {
		item.Status = model.ItemStatusSoldOut
	}
	return nil
}

func (r *memItemRepo) Release(ctx context.Context, id uint64, quantity int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return utils.ErrItemNotFound
	}
	item.Stock += quantity
	item.SoldCount -= quantity
	if item.Status == model.ItemStatusSoldOut {
		item.Status = model.ItemStatusActive
	}
	return nil
}

func TestAllocate_ConcurrentLastUnit(t *testing.T) {
	repo := newMemItemRepo(&model.InventoryItem{ID: 3, Stock: 1, Status: model.ItemStatusActive})
	store := newTestStore(t, repo)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = store.Allocate(context.Background(), 3, 1)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, utils.ErrInsufficientStock)
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one allocation may win the last unit")

	item, err := repo.GetByID(context.Background(), 3)
	assert.NoError(t, err)
	assert.Equal(t, 0, item.Stock)
	assert.Equal(t, int8(model.ItemStatusSoldOut), item.Status)
}

func TestAllocate_ConcurrentDrain(t *testing.T) {
	repo := newMemItemRepo(&model.InventoryItem{ID: 3, Stock: 3, Status: model.ItemStatusActive})
	store := newTestStore(t, repo)

	var wg sync.WaitGroup
	results := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = store.Allocate(context.Background(), 3, 1)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		}
	}
	assert.Equal(t, 3, succeeded)

	item, err := repo.GetByID(context.Background(), 3)
	assert.NoError(t, err)
	assert.Equal(t, 0, item.Stock)
	assert.Equal(t, 3, item.SoldCount)
	assert.Equal(t, int8(model.ItemStatusSoldOut), item.Status)
}

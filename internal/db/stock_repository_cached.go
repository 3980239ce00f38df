package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prudhivi99/minisys-saga/internal/cache"
	"github.com/prudhivi99/minisys-saga/internal/models"
	"github.com/prudhivi99/minisys-saga/internal/store"
)

// Cache is the subset of cache.RedisCache the stock cache needs.
type Cache interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, keys ...string) error
}

// CachedStockRepository wraps a StockStore with a read-through cache of
// stock rows keyed by product. Rows touched by a committed transaction are
// evicted.
type CachedStockRepository struct {
	repo  store.StockStore
	cache Cache
	log   *zap.Logger
}

func NewCachedStockRepository(repo store.StockStore, c Cache, log *zap.Logger) *CachedStockRepository {
	return &CachedStockRepository{
		repo:  repo,
		cache: c,
		log:   log,
	}
}

// Cache key helpers
func stockProductKey(productID string) string {
	return fmt.Sprintf("stock:product:%s", productID)
}

func stockKey(id uuid.UUID) string {
	return fmt.Sprintf("stock:%s", id)
}

// GetStockByProduct returns a product's stock (with caching)
func (r *CachedStockRepository) GetStockByProduct(ctx context.Context, productID string) (*models.Stock, error) {
	cacheKey := stockProductKey(productID)

	// Try cache first
	var s models.Stock
	err := r.cache.Get(ctx, cacheKey, &s)
	if err == nil {
		r.log.Debug("📦 Cache HIT", zap.String("key", cacheKey))
		return &s, nil
	}
	if !cache.IsMiss(err) {
		r.log.Warn("⚠️ Cache error", zap.String("key", cacheKey), zap.Error(err))
	}

	// Cache miss - get from database
	r.log.Debug("💾 Cache MISS - fetching from DB", zap.String("key", cacheKey))
	stock, err := r.repo.GetStockByProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	r.store(ctx, cacheKey, stock)
	return stock, nil
}

// GetStock returns a single stock row (with caching)
func (r *CachedStockRepository) GetStock(ctx context.Context, id uuid.UUID) (*models.Stock, error) {
	cacheKey := stockKey(id)

	var s models.Stock
	err := r.cache.Get(ctx, cacheKey, &s)
	if err == nil {
		return &s, nil
	}
	if !cache.IsMiss(err) {
		r.log.Warn("⚠️ Cache error", zap.String("key", cacheKey), zap.Error(err))
	}

	stock, err := r.repo.GetStock(ctx, id)
	if err != nil {
		return nil, err
	}

	r.store(ctx, cacheKey, stock)
	return stock, nil
}

// ListStocks is not cached; pages change with every reservation.
func (r *CachedStockRepository) ListStocks(ctx context.Context, f store.StockFilter) (models.Page[models.Stock], error) {
	return r.repo.ListStocks(ctx, f)
}

// InTx runs fn and invalidates the cache entries of every stock it wrote
func (r *CachedStockRepository) InTx(ctx context.Context, fn func(tx store.StockTx) error) error {
	var touched []models.Stock
	err := r.repo.InTx(ctx, func(tx store.StockTx) error {
		return fn(&trackingStockTx{StockTx: tx, touched: &touched})
	})
	if err != nil {
		return err
	}

	if len(touched) == 0 {
		return nil
	}
	keys := make([]string, 0, 2*len(touched))
	for _, s := range touched {
		keys = append(keys, stockProductKey(s.ProductID), stockKey(s.ID))
	}
	if err := r.cache.Delete(ctx, keys...); err != nil {
		r.log.Warn("⚠️ Failed to invalidate cache", zap.Strings("keys", keys), zap.Error(err))
		return nil
	}
	r.log.Debug("🗑️ Cache invalidated", zap.Strings("keys", keys))
	return nil
}

func (r *CachedStockRepository) store(ctx context.Context, key string, s *models.Stock) {
	if err := r.cache.Set(ctx, key, s); err != nil {
		r.log.Warn("⚠️ Failed to cache stock", zap.String("key", key), zap.Error(err))
	}
}

type trackingStockTx struct {
	store.StockTx
	touched *[]models.Stock
}

func (t *trackingStockTx) InsertStock(ctx context.Context, s *models.Stock) error {
	if err := t.StockTx.InsertStock(ctx, s); err != nil {
		return err
	}
	*t.touched = append(*t.touched, *s)
	return nil
}

func (t *trackingStockTx) UpdateStock(ctx context.Context, s *models.Stock) error {
	if err := t.StockTx.UpdateStock(ctx, s); err != nil {
		return err
	}
	*t.touched = append(*t.touched, *s)
	return nil
}

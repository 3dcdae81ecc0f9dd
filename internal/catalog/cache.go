package catalog

import (
	"context"
	"errors"

	"github.com/mmeshcher/evbooking/internal/model"
)

// Cache хранит снимок справочников между запросами.
type Cache interface {
	Get(ctx context.Context) (*model.Catalog, error)
	Set(ctx context.Context, c *model.Catalog) error
	Delete(ctx context.Context) error
}

// ErrCacheMiss возвращается, если снимка в кэше нет.
var ErrCacheMiss = errors.New("cache miss")

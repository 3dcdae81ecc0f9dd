// Package catalog отдаёт справочники (автомобили, станции, марки), по которым
// проверяется черновик бронирования.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mmeshcher/evbooking/internal/model"
)

// Source читает справочники из бэкенда.
type Source interface {
	ListVehicles(ctx context.Context) ([]model.Vehicle, error)
	ListStations(ctx context.Context) ([]model.Station, error)
	ListBrands(ctx context.Context) ([]model.Brand, error)
}

// Service собирает снимок каталога. Кэш необязателен.
type Service struct {
	source Source
	cache  Cache
	logger *zap.Logger
	sfg    singleflight.Group
}

// NewService создаёт сервис каталога. cache может быть nil, тогда каждый снимок читается из source.
func NewService(source Source, cache Cache, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{source: source, cache: cache, logger: logger}
}

// Snapshot возвращает текущий каталог. Одновременные промахи кэша
// схлопываются в один поход в бэкенд.
func (s *Service) Snapshot(ctx context.Context) (*model.Catalog, error) {
	v, err, _ := s.sfg.Do(cacheKey, func() (any, error) {
		if s.cache != nil {
			c, err := s.cache.Get(ctx)
			if err == nil {
				return c, nil
			}
			if !errors.Is(err, ErrCacheMiss) {
				s.logger.Warn("catalog cache get failed", zap.Error(err))
			}
		}

		c, err := s.load(ctx)
		if err != nil {
			return nil, err
		}

		if s.cache != nil {
			if err := s.cache.Set(context.WithoutCancel(ctx), c); err != nil {
				s.logger.Warn("catalog cache set failed", zap.Error(err))
			}
		}
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Catalog), nil
}

// Invalidate сбрасывает кэш, например после отказа бэкенда принять бронирование
// с устаревшим автомобилем.
func (s *Service) Invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx); err != nil {
		s.logger.Warn("catalog cache delete failed", zap.Error(err))
	}
}

func (s *Service) load(ctx context.Context) (*model.Catalog, error) {
	vehicles, err := s.source.ListVehicles(ctx)
	if err != nil {
		return nil, fmt.Errorf("load vehicles: %w", err)
	}
	stations, err := s.source.ListStations(ctx)
	if err != nil {
		return nil, fmt.Errorf("load stations: %w", err)
	}
	brands, err := s.source.ListBrands(ctx)
	if err != nil {
		return nil, fmt.Errorf("load brands: %w", err)
	}

	return &model.Catalog{
		Vehicles: vehicles,
		Stations: stations,
		Brands:   brands,
	}, nil
}

package backend

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mmeshcher/evbooking/internal/model"
)

// ListVehicles возвращает каталог автомобилей.
func (c *Client) ListVehicles(ctx context.Context) ([]model.Vehicle, error) {
	var out []model.Vehicle
	if err := c.list(ctx, "/vehicles", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListStations возвращает список станций выдачи.
func (c *Client) ListStations(ctx context.Context) ([]model.Station, error) {
	var out []model.Station
	if err := c.list(ctx, "/stations", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListBrands возвращает список марок.
func (c *Client) ListBrands(ctx context.Context) ([]model.Brand, error) {
	var out []model.Brand
	if err := c.list(ctx, "/brands", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) list(ctx context.Context, path string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	if err := c.expectOK(http.MethodGet, path, resp); err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	if err := decodeEnvelope(resp.body, out); err != nil {
		return fmt.Errorf("get %s: %w: %v", path, ErrMalformedResponse, err)
	}
	return nil
}

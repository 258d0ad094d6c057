package upstream

import (
	"context"
	"net/http"
	"net/url"

	"github.com/noah-isme/esim-admin/internal/view"
)

// ListPackages fetches the full bundle catalogue. filters are forwarded as
// query parameters, for example country or region.
func (c *Client) ListPackages(ctx context.Context, filters url.Values) ([]view.Record, error) {
	return c.fetchAll(ctx, "packages.list", c.paths.Catalogue, filters)
}

// CreatePackage adds a package to the catalogue.
func (c *Client) CreatePackage(ctx context.Context, fields map[string]any) (view.Record, error) {
	doc, err := c.call(ctx, "packages.create", http.MethodPost, c.paths.Packages, nil, fields)
	if err != nil {
		return nil, err
	}
	return extractRecord(doc), nil
}

// UpdatePackage replaces package fields.
func (c *Client) UpdatePackage(ctx context.Context, id string, fields map[string]any) (view.Record, error) {
	esc, err := escapeID(id)
	if err != nil {
		return nil, err
	}
	doc, err := c.call(ctx, "packages.update", http.MethodPut, c.paths.Packages+"/"+esc, nil, fields)
	if err != nil {
		return nil, err
	}
	return extractRecord(doc), nil
}

// UpdatePackagePrice writes a single new price.
func (c *Client) UpdatePackagePrice(ctx context.Context, id string, price float64) error {
	_, err := c.UpdatePackage(ctx, id, map[string]any{"price": price})
	return err
}

// DeletePackage removes a package from the catalogue.
func (c *Client) DeletePackage(ctx context.Context, id string) error {
	esc, err := escapeID(id)
	if err != nil {
		return err
	}
	_, err = c.call(ctx, "packages.delete", http.MethodDelete, c.paths.Packages+"/"+esc, nil, nil)
	return err
}

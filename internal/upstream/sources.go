package upstream

import (
	"context"
	"fmt"

	"github.com/noah-isme/esim-admin/internal/view"
)

// Source names a listable admin API collection.
type Source string

const (
	SourceUsers        Source = "users"
	SourcePackages     Source = "packages"
	SourceRefunds      Source = "refunds"
	SourceApplications Source = "applications"
	SourceOrders       Source = "orders"
)

// Sources lists every collection the admin API exposes.
var Sources = []Source{SourceUsers, SourcePackages, SourceRefunds, SourceApplications, SourceOrders}

// ParseSource validates a collection name.
func ParseSource(raw string) (Source, error) {
	for _, s := range Sources {
		if string(s) == raw {
			return s, nil
		}
	}
	return "", fmt.Errorf("upstream: unknown source %q", raw)
}

// List fetches the full record set of source.
func (c *Client) List(ctx context.Context, source Source) ([]view.Record, error) {
	switch source {
	case SourceUsers:
		return c.ListUsers(ctx)
	case SourcePackages:
		return c.ListPackages(ctx, nil)
	case SourceRefunds:
		return c.ListRefunds(ctx)
	case SourceApplications:
		return c.ListApplications(ctx)
	case SourceOrders:
		return c.ListOrders(ctx)
	default:
		return nil, fmt.Errorf("upstream: unknown source %q", source)
	}
}

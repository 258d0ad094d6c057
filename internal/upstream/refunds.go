package upstream

import (
	"context"
	"net/http"

	"github.com/noah-isme/esim-admin/internal/view"
)

// ListRefunds fetches every refund request.
func (c *Client) ListRefunds(ctx context.Context) ([]view.Record, error) {
	return c.fetchAll(ctx, "refunds.list", c.paths.Refunds, nil)
}

// UpdateRefundStatus approves or rejects a refund.
func (c *Client) UpdateRefundStatus(ctx context.Context, id, status, note string) (view.Record, error) {
	esc, err := escapeID(id)
	if err != nil {
		return nil, err
	}
	body := map[string]any{"status": status}
	if note != "" {
		body["adminNote"] = note
	}
	doc, err := c.call(ctx, "refunds.update", http.MethodPut, c.paths.Refunds+"/"+esc, nil, body)
	if err != nil {
		return nil, err
	}
	return extractRecord(doc), nil
}

// ListApplications fetches every submitted application.
func (c *Client) ListApplications(ctx context.Context) ([]view.Record, error) {
	return c.fetchAll(ctx, "applications.list", c.paths.Applications, nil)
}

// ListOrders fetches every order.
func (c *Client) ListOrders(ctx context.Context) ([]view.Record, error) {
	return c.fetchAll(ctx, "orders.list", c.paths.Orders, nil)
}

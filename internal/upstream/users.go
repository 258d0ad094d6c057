package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/noah-isme/esim-admin/internal/view"
)

var errMissingID = errors.New("upstream: id is required")

func escapeID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errMissingID
	}
	return url.PathEscape(id), nil
}

// ListUsers fetches every admin-visible user.
func (c *Client) ListUsers(ctx context.Context) ([]view.Record, error) {
	return c.fetchAll(ctx, "users.list", c.paths.Users, nil)
}

// UpdateUser replaces editable user fields.
func (c *Client) UpdateUser(ctx context.Context, id string, fields map[string]any) (view.Record, error) {
	esc, err := escapeID(id)
	if err != nil {
		return nil, err
	}
	doc, err := c.call(ctx, "users.update", http.MethodPut, c.paths.Users+"/"+esc, nil, fields)
	if err != nil {
		return nil, err
	}
	return extractRecord(doc), nil
}

// SetUserActive activates or deactivates a user without deleting it.
func (c *Client) SetUserActive(ctx context.Context, id string, active bool) error {
	esc, err := escapeID(id)
	if err != nil {
		return err
	}
	if c.legacyStatus {
		_, err = c.call(ctx, "users.set_active", http.MethodDelete, c.paths.Users+"/"+esc, nil, map[string]any{"isDeleted": !active})
		return err
	}
	_, err = c.call(ctx, "users.set_active", http.MethodPatch, c.paths.Users+"/"+esc+"/status", nil, map[string]any{"isActive": active})
	return err
}

// DeleteUser permanently removes a user.
func (c *Client) DeleteUser(ctx context.Context, id string) error {
	esc, err := escapeID(id)
	if err != nil {
		return err
	}
	var body any
	if c.legacyStatus {
		body = map[string]any{"permanent": true}
	}
	_, err = c.call(ctx, "users.delete", http.MethodDelete, c.paths.Users+"/"+esc, nil, body)
	return err
}

package upstream

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/noah-isme/esim-admin/internal/common"
	"github.com/noah-isme/esim-admin/internal/resilience"
)

// Error describes a failed admin API call.
type Error struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("upstream %s: %v", e.Op, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("upstream %s: %d %s", e.Op, e.Status, e.Message)
	default:
		return fmt.Sprintf("upstream %s: %s", e.Op, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// ToAppError maps upstream failures onto API errors. Client errors keep
// their status, server errors become 502 and transport failures 503.
func ToAppError(err error) error {
	if err == nil {
		return nil
	}
	if common.IsAppError(err) {
		return err
	}
	if errors.Is(err, ErrNoCredential) {
		return common.NewAppError("UNAUTHORIZED", "missing credential for admin API", http.StatusUnauthorized, err)
	}
	var upErr *Error
	if !errors.As(err, &upErr) {
		return err
	}
	switch {
	case upErr.Err != nil || errors.Is(err, resilience.ErrOpenCircuit):
		return common.NewAppError("UPSTREAM_UNAVAILABLE", "admin API unavailable", http.StatusServiceUnavailable, err)
	case upErr.Status == http.StatusNotFound:
		return common.NewAppError("NOT_FOUND", upErr.Message, http.StatusNotFound, err)
	case upErr.Status == http.StatusUnauthorized || upErr.Status == http.StatusForbidden:
		return common.NewAppError("UNAUTHORIZED", upErr.Message, upErr.Status, err)
	case upErr.Status >= 400 && upErr.Status < 500:
		return common.NewAppError("UPSTREAM_ERROR", upErr.Message, upErr.Status, err)
	default:
		return common.NewAppError("UPSTREAM_ERROR", upErr.Message, http.StatusBadGateway, err)
	}
}

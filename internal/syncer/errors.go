package syncer

import (
	"context"
	"errors"
	"fmt"

	coreerr "github.com/aevon-lab/klaviyo-sync/internal/core/errors"
	"github.com/aevon-lab/klaviyo-sync/internal/klaviyo"
	"github.com/aevon-lab/klaviyo-sync/internal/warehouse"
)

// RunError is a failed sync run tagged with its failure kind.
type RunError struct {
	Kind coreerr.Kind
	Err  error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("sync %s error: %v", e.Kind, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// classify wraps err in a RunError. fallback is the kind used when no known
// error type is found in the chain.
func classify(err error, fallback coreerr.Kind) *RunError {
	var (
		shapeErr *klaviyo.ShapeError
		apiErr   *klaviyo.APIError
		stepErr  *warehouse.StepError
	)
	kind := fallback
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		kind = coreerr.KindCanceled
	case errors.As(err, &stepErr):
		kind = coreerr.KindWarehouse
	case errors.As(err, &shapeErr):
		kind = coreerr.KindShape
	case errors.As(err, &apiErr):
		kind = coreerr.KindTransport
	}
	return &RunError{Kind: kind, Err: err}
}

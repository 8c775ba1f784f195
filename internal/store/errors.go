package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/Lllllllleong/extractionjobs/internal/models"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// mapError translates Firestore gRPC errors into the job error taxonomy.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrAlreadyExists) ||
		errors.Is(err, models.ErrRefCollision) || errors.Is(err, models.ErrInvalidRequest) ||
		errors.Is(err, models.ErrTransientIO) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w: %w", op, models.ErrTransientIO, err)
	}

	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	case codes.AlreadyExists:
		return fmt.Errorf("%s: %w", op, models.ErrAlreadyExists)
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal:
		return fmt.Errorf("%s: %w: %w", op, models.ErrTransientIO, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

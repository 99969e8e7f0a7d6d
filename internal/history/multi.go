package history

import (
	"context"
	"errors"

	"github.com/kiliankoe/babyguess/internal/model"
)

type archive interface {
	Append(ctx context.Context, rec model.HistoryRecord) error
}

// Multi appends to every archive and joins their errors.
type Multi []archive

func (m Multi) Append(ctx context.Context, rec model.HistoryRecord) error {
	var errs []error
	for _, a := range m {
		if err := a.Append(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

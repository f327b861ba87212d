package repository

import (
	"context"
	"errors"

	"github.com/shubham-shewale/tickfeed/pkg/models"
)

// ErrNoSnapshot is returned when no tick has been cached for a symbol yet.
var ErrNoSnapshot = errors.New("no snapshot for symbol")

type TickStore interface {
	Latest(ctx context.Context, symbol string) (models.MarketTick, error)
	Close() error
}

package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shubham-shewale/telcrypto-backend/pkg/models"
)

var (
	// ErrUnavailable wraps failures caused by a backend that cannot be reached.
	ErrUnavailable = errors.New("backend unavailable")
	// ErrCorruptRecord is returned when a stored payload cannot be decoded.
	ErrCorruptRecord = errors.New("corrupt stored record")
)

// Backend is the key/value surface the price store persists through.
// List indices follow Redis semantics: 0 is the head, negative values count from the tail.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	PushLeft(ctx context.Context, key string, value []byte) error
	Trim(ctx context.Context, key string, start, stop int64) error
	Index(ctx context.Context, key string, index int64) ([]byte, bool, error)
	Range(ctx context.Context, key string, start, stop int64) ([][]byte, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Available() bool
}

// PriceStore keeps the latest tick and a bounded history per symbol.
type PriceStore interface {
	Put(ctx context.Context, tick models.PriceTick) (bool, error)
	GetLatest(ctx context.Context, symbols []string) ([]models.PriceTick, error)
	GetHistory(ctx context.Context, symbol string, limit int) ([]models.PriceTick, error)
}

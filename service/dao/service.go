package dao

import (
	"context"
)

// Service is a minimal keyed repository.
type Service[K comparable, T any] interface {
	Save(ctx context.Context, t *T) error

	Load(ctx context.Context, id K) (*T, error)

	Delete(ctx context.Context, id K) error

	List(ctx context.Context) ([]*T, error)
}

// Claimer is implemented by repositories able to atomically insert a record
// only when its key is not taken yet.
type Claimer[K comparable, T any] interface {
	Service[K, T]
	// Claim stores t and returns true when no record with the same key
	// existed, otherwise it leaves storage untouched and returns false.
	Claim(ctx context.Context, t *T) (bool, error)
}

package internal

import (
	"context"
	"io"
)

// Repository is where snapshot artifacts end up: the local filesystem
// for small studios, S3 for everyone else.
type Repository interface {
	Write(ctx context.Context, key string, reader io.Reader) error
	Flush(ctx context.Context) error
}

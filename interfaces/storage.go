package interfaces

import (
	"context"

	"github.com/18f/site-pipeline/models"
)

// ObjectStore puts site artifacts, overwriting whatever is stored under the key.
type ObjectStore interface {
	Put(ctx context.Context, bucket, key string, body []byte, opts models.PutOptions) (models.PutResult, error)
}

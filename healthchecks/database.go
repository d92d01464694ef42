package healthchecks

import (
	"context"

	"github.com/jinzhu/gorm"
)

// Database pings the state database.
func Database(db *gorm.DB) Check {
	return func(ctx context.Context) error {
		return db.DB().PingContext(ctx)
	}
}

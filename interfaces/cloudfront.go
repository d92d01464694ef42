package interfaces

import (
	"context"

	"github.com/18f/site-pipeline/models"
)

// CDNProvider creates and manages the distribution in front of the site.
type CDNProvider interface {
	// ApplyDistribution creates the distribution, or replaces the config of the one already aliased to the
	// same domain.
	ApplyDistribution(ctx context.Context, config models.DistributionConfig) (models.DistributionRef, error)
	DistributionStatus(ctx context.Context, id string) (models.DistributionStatus, error)
	Invalidate(ctx context.Context, id string, paths []string) (string, error)
}

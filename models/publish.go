package models

// PublishJob uploads a built site and invalidates the distribution that fronts it.
type PublishJob struct {
	SourceArtifactDir string
	DestinationBucket string

	// Extra paths to invalidate on top of whatever the upload changes, e.g. a previous run's failed
	// invalidation.
	InvalidationPaths []string

	ScopeDistribution DistributionRef
}

// PutOptions for a single object.
type PutOptions struct {
	ContentType  string
	CacheControl string
}

// PutResult tells the publisher whether the stored bytes changed.
type PutResult struct {
	Changed bool

	// False when the store could not compare against what was there before.
	DiffAvailable bool
}

// PublishReport summarises a publish.
type PublishReport struct {
	Uploaded          []string
	Changed           []string
	Unchanged         []string
	InvalidationPaths []string
	InvalidationId    string
}

// Outputs surfaced for downstream tooling.
type Outputs struct {
	Site           string `json:"Site,omitempty" yaml:"Site,omitempty"`
	Certificate    string `json:"Certificate,omitempty" yaml:"Certificate,omitempty"`
	Bucket         string `json:"Bucket,omitempty" yaml:"Bucket,omitempty"`
	DistributionId string `json:"DistributionId,omitempty" yaml:"DistributionId,omitempty"`
}

package site_pipeline

import "time"

const (
	PipelineName = "site-pipeline"

	// CloudFront only reads viewer certificates from ACM in us-east-1, whatever region the rest of the site
	// lives in.
	EdgeCertificateRegion = "us-east-1"

	// Route53 hosted zone id used for every alias record that targets a CloudFront distribution.
	CloudFrontHostedZoneId = "Z2FDTNDATAQYW2"

	BackendPathPattern = "/Prod/*"
	EntryDocument      = "index.html"
	EntryDocumentPath  = "/" + EntryDocument
	InvalidateAllPath  = "/*"

	// Past this many changed paths a single wildcard is cheaper than listing them.
	MaxInvalidationPaths = 15

	// How many times in a row every resolver must agree on a validation record.
	GoodResolutionCount = 3

	CertificateValidationTimeout = time.Minute * 45
	DistributionDeployTimeout    = time.Minute * 40
	StatusCheckInterval          = time.Second * 15

	UploadConcurrency = 8
	UploadRateLimit   = 50
)

// Stage is a named step of the deploy pipeline.
type Stage string

const (
	ZoneStage         Stage = "zone"
	CertificateStage  Stage = "certificate"
	OriginsStage      Stage = "origins"
	DistributionStage Stage = "distribution"
	AliasStage        Stage = "alias"
	PublishStage      Stage = "publish"
)

// StageDependencies is the dependency graph of the pipeline. A stage may only begin once every stage it lists
// has completed in the same run.
var StageDependencies = map[Stage][]Stage{
	ZoneStage:         {},
	CertificateStage:  {ZoneStage},
	OriginsStage:      {},
	DistributionStage: {CertificateStage, OriginsStage},
	AliasStage:        {ZoneStage, DistributionStage},
	PublishStage:      {DistributionStage},
}

// StageStatus of a single stage inside a run.
type StageStatus string

const (
	StageRunning   StageStatus = "running"
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
)

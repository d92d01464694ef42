package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/18f/site-pipeline/models"
	"github.com/go-acme/lego/v4/challenge/dns01"
	"github.com/kelseyhightower/envconfig"
)

// Settings are read from the environment once, on startup.
type Settings struct {
	// Site.
	ApexDomain      string `envconfig:"domain"`
	BackendHostname string `envconfig:"backend_hostname"`
	ArtifactDir     string `envconfig:"artifact_dir" default:"dist"`

	// Defaults to the domain.
	Bucket string `envconfig:"bucket"`

	// AWS.
	AwsDefaultRegion string `envconfig:"aws_default_region" required:"true"`

	// Overrides the bucket website endpoint as the static site origin.
	SiteOriginHostname string `envconfig:"site_origin_hostname"`

	// Internal database.
	DatabaseDialect string `envconfig:"database_dialect" default:"sqlite3"`
	DatabaseUrl     string `envconfig:"database_url" default:"site-pipeline.db"`

	LogLevel string `envconfig:"log_level" default:"info"`

	// DNS resolvers for the validation record precheck, e.g. google=8.8.8.8:53,cloudflare=1.1.1.1:53.
	Resolvers Resolver `envconfig:"resolvers"`

	CertificateValidationTimeout time.Duration `envconfig:"certificate_validation_timeout" default:"45m"`
	DistributionDeployTimeout    time.Duration `envconfig:"distribution_deploy_timeout" default:"40m"`
	PollInterval                 time.Duration `envconfig:"poll_interval" default:"15s"`

	UploadConcurrency int    `envconfig:"upload_concurrency" default:"8"`
	UploadRateLimit   int    `envconfig:"upload_rate_limit" default:"50"`
	InvalidationMode  string `envconfig:"invalidation_mode" default:"changed"`

	// Sent with the entry document so it never goes stale at the edge.
	EntryDocumentCacheControl string `envconfig:"entry_document_cache_control" default:"no-cache"`

	MinimumProtocolVersion string `envconfig:"minimum_protocol_version" default:"TLSv1.2_2021"`
	PriceClass             string `envconfig:"price_class" default:"PriceClass_100"`

	// Cron spec for reconcile.
	Schedule string `envconfig:"schedule" default:"@every 1h"`

	// .json, .yaml or .yml.
	OutputsFile string `envconfig:"outputs_file"`
}

// NewSettings reads SITE_* variables.
func NewSettings() (Settings, error) {
	var settings Settings
	if err := envconfig.Process("site", &settings); err != nil {
		return Settings{}, err
	}
	settings.ApexDomain = strings.ToLower(dns01.UnFqdn(strings.TrimSpace(settings.ApexDomain)))
	return settings, nil
}

// Spec returns the domain spec the pipeline deploys.
func (s Settings) Spec() models.DomainSpec {
	return models.DomainSpec{
		ApexDomain:      s.ApexDomain,
		BackendHostname: s.BackendHostname,
	}
}

// BucketName returns the configured bucket, or the domain when none is set.
func (s Settings) BucketName() string {
	if s.Bucket != "" {
		return s.Bucket
	}
	return s.ApexDomain
}

// SiteOrigin returns where the CDN fetches the static site from. A bucket website endpoint only speaks HTTP.
func (s Settings) SiteOrigin(websiteEndpoint func(bucket, region string) string) models.StaticSiteOrigin {
	if s.SiteOriginHostname != "" {
		return models.StaticSiteOrigin{Hostname: s.SiteOriginHostname}
	}
	return models.StaticSiteOrigin{
		Hostname: websiteEndpoint(s.BucketName(), s.AwsDefaultRegion),
		HttpOnly: true,
	}
}

// Validate the settings a deploy needs.
func (s Settings) Validate() error {
	if err := s.Spec().Validate(); err != nil {
		return err
	}
	if s.UploadConcurrency <= 0 {
		return fmt.Errorf("upload concurrency must be positive, got %d", s.UploadConcurrency)
	}
	switch s.InvalidationMode {
	case "changed", "all":
	default:
		return fmt.Errorf("invalidation mode must be changed or all, got %q", s.InvalidationMode)
	}
	return nil
}

// Resolver is a set of named nameservers.
type Resolver map[string]string

func (r *Resolver) Decode(value string) error {
	*r = make(map[string]string)
	if value == "" {
		return nil
	}
	s := strings.Split(value, ",")
	for idx := range s {
		ns := strings.SplitN(s[idx], "=", 2)
		if len(ns) != 2 || ns[0] == "" || ns[1] == "" {
			return fmt.Errorf("resolver %q must be name=host:port", s[idx])
		}
		(*r)[ns[0]] = ns[1]
	}
	return nil
}

package types

import (
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/stretchr/testify/suite"
)

type SettingsSuite struct {
	suite.Suite
	set []string
}

func TestSettingsSuite(t *testing.T) {
	suite.Run(t, new(SettingsSuite))
}

func (s *SettingsSuite) SetupTest() {
	s.set = nil
}

func (s *SettingsSuite) TearDownTest() {
	for idx := range s.set {
		if err := os.Unsetenv(s.set[idx]); err != nil {
			s.Require().NoError(err, "there should be no error unsetting the env var.")
		}
	}
}

func (s *SettingsSuite) setenv(key, value string) {
	name := fmt.Sprintf("SITE_%s", strings.ToUpper(key))
	s.Require().NoError(os.Setenv(name, value), "there should be no error setting the env var.")
	s.set = append(s.set, name)
}

func (s *SettingsSuite) TestSettingsResolverDecode() {
	s.setenv("aws_default_region", "us-west-2")
	s.setenv("resolvers", "google=8.8.8.8:53,cloudflare=1.1.1.1:53")

	settings, err := NewSettings()
	s.Require().NoError(err, "there should be no error trying to parse the arguments")

	val, ok := settings.Resolvers["google"]
	s.Require().True(ok, "the google resolver must exist.")
	s.Require().Equal("8.8.8.8:53", val, "the google resolver doesn't match.")

	val, ok = settings.Resolvers["cloudflare"]
	s.Require().True(ok, "the cloudflare resolver must exist.")
	s.Require().Equal("1.1.1.1:53", val, "the cloudflare resolver doesn't match.")
}

func (s *SettingsSuite) TestSettingsResolverDecodeMalformed() {
	var r Resolver
	s.Require().Error(r.Decode("google"), "there should be an error when a resolver has no address")
	s.Require().Error(r.Decode("=8.8.8.8:53"), "there should be an error when a resolver has no name")
}

func (s *SettingsSuite) TestSettingsDefaults() {
	s.setenv("aws_default_region", "us-west-2")
	s.setenv("domain", "Example.COM.")
	s.setenv("backend_hostname", "api.internal")

	settings, err := NewSettings()
	s.Require().NoError(err, "there should be no error trying to parse the arguments")

	s.Require().Equal("example.com", settings.ApexDomain, "the domain should be normalised")
	s.Require().Equal("dist", settings.ArtifactDir, "the artifact dir should default to dist")
	s.Require().Equal("example.com", settings.BucketName(), "the bucket should default to the domain")
	s.Require().Equal("sqlite3", settings.DatabaseDialect, "the database dialect should default to sqlite3")
	s.Require().Equal(45*time.Minute, settings.CertificateValidationTimeout, "the certificate timeout should default to 45m")
	s.Require().Equal(8, settings.UploadConcurrency, "the upload concurrency should default to 8")
	s.Require().Equal("changed", settings.InvalidationMode, "the invalidation mode should default to changed")
	s.Require().Equal("no-cache", settings.EntryDocumentCacheControl, "the entry document should not be cached")
	s.Require().NoError(settings.Validate(), "there should be no error validating the defaults")

	origin := settings.SiteOrigin(func(bucket, region string) string {
		return bucket + ".s3-website-" + region + ".amazonaws.com"
	})
	s.Require().Equal("example.com.s3-website-us-west-2.amazonaws.com", origin.Hostname, "the site origin should be the bucket website")
	s.Require().True(origin.HttpOnly, "a bucket website origin only speaks http")
}

func (s *SettingsSuite) TestSettingsRequiresRegion() {
	var settings Settings
	s.Require().Error(envconfig.Process("site", &settings), "there should be an error without a region")
}

func (s *SettingsSuite) TestSettingsValidate() {
	s.setenv("aws_default_region", "us-west-2")
	s.setenv("domain", "example.com")
	s.setenv("backend_hostname", "api.internal")
	s.setenv("invalidation_mode", "sometimes")

	settings, err := NewSettings()
	s.Require().NoError(err, "there should be no error trying to parse the arguments")
	s.Require().Error(settings.Validate(), "there should be an error with an unknown invalidation mode")

	settings.InvalidationMode = "all"
	settings.BackendHostname = ""
	s.Require().Error(settings.Validate(), "there should be an error without a backend hostname")
}

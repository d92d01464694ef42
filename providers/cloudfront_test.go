package providers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/18f/site-pipeline/fakes"
	"github.com/18f/site-pipeline/models"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/stretchr/testify/suite"
)

type CloudFrontSuite struct {
	suite.Suite
	ctx        context.Context
	cloudfront *fakes.MockCloudFrontAPI
	config     models.DistributionConfig
	client     *CloudFront
}

func TestCloudFrontSuite(t *testing.T) {
	suite.Run(t, new(CloudFrontSuite))
}

func (s *CloudFrontSuite) SetupTest() {
	s.ctx = context.Background()
	s.cloudfront = fakes.NewMockCloudFrontAPI()
	s.cloudfront.DeployAfter = 1
	s.client = NewCloudFront(s.cloudfront)

	backend := models.OriginRef{Id: "backend", DomainName: "api.internal", Protocol: models.HttpsOnly}
	site := models.OriginRef{Id: "site", DomainName: "example.com.s3-website-us-east-1.amazonaws.com", Protocol: models.HttpOnly}
	s.config = models.DistributionConfig{
		Certificate: models.Certificate{Id: "arn:aws:acm:us-east-1:123456789012:certificate/abc"},
		Origins: []models.OriginRule{
			{
				Origin:             backend,
				PathPattern:        "/Prod/*",
				AllowedMethods:     models.AllMethods,
				CacheTtl:           &models.CacheTtl{},
				ForwardedHeaders:   []string{"Authorization"},
				ForwardQueryString: true,
			},
			{
				Origin:         site,
				Default:        true,
				AllowedMethods: models.ReadMethods,
			},
		},
		Fallback: models.ErrorFallback{
			MatchStatus:   http.StatusNotFound,
			CacheTtl:      10 * time.Second,
			RewriteTo:     "/index.html",
			RespondStatus: http.StatusOK,
		},
		DomainAliases:          []string{"example.com"},
		RootObject:             "index.html",
		MinimumProtocolVersion: "TLSv1.2_2021",
	}
}

func (s *CloudFrontSuite) TestApplyCreatesThenUpdates() {
	created, err := s.client.ApplyDistribution(s.ctx, s.config)
	s.Require().NoError(err, "there should be no error creating the distribution")
	s.Require().NotEmpty(created.Id, "the distribution should have an id")
	s.Require().NotEmpty(created.DomainName, "the distribution should have a hostname")

	stored, ok := s.cloudfront.Distribution(created.Id)
	s.Require().True(ok, "the distribution should exist")
	s.Require().Equal(CallerReference("example.com"), aws.StringValue(stored.DistributionConfig.CallerReference), "the caller reference should be derived from the alias")

	updated, err := s.client.ApplyDistribution(s.ctx, s.config)
	s.Require().NoError(err, "there should be no error updating the distribution")
	s.Require().Equal(created.Id, updated.Id, "the existing distribution should be updated")
	s.Require().Equal(1, s.cloudfront.CreateCount, "only one distribution should be created")
	s.Require().Equal(1, s.cloudfront.UpdateCount, "the second apply should update")
}

func (s *CloudFrontSuite) TestApplyWithoutAlias() {
	s.config.DomainAliases = nil
	_, err := s.client.ApplyDistribution(s.ctx, s.config)
	s.Require().Error(err, "there should be an error without an alias")
}

func (s *CloudFrontSuite) TestDistributionConfig() {
	dc, err := distributionConfig(s.config, "ref")
	s.Require().NoError(err, "there should be no error building the config")

	s.Require().Equal(int64(2), aws.Int64Value(dc.Origins.Quantity), "each origin should appear once")
	s.Require().Equal("http-only", aws.StringValue(dc.Origins.Items[1].CustomOriginConfig.OriginProtocolPolicy), "the bucket website only speaks http")
	s.Require().Equal("https-only", aws.StringValue(dc.Origins.Items[0].CustomOriginConfig.OriginProtocolPolicy), "the backend should be reached over https")

	backend := dc.CacheBehaviors.Items[0]
	s.Require().Equal(int64(7), aws.Int64Value(backend.AllowedMethods.Quantity), "the backend should accept every method")
	s.Require().Equal([]string{"GET", "HEAD"}, aws.StringValueSlice(backend.AllowedMethods.CachedMethods.Items), "only reads should be cached")
	s.Require().True(aws.BoolValue(backend.ForwardedValues.QueryString), "the backend should get the query string")
	s.Require().Equal([]string{"Authorization"}, aws.StringValueSlice(backend.ForwardedValues.Headers.Items), "the backend should get its headers")

	s.Require().False(aws.BoolValue(dc.DefaultCacheBehavior.ForwardedValues.QueryString), "the site should not get the query string")
	s.Require().Equal("PriceClass_All", aws.StringValue(dc.PriceClass), "the price class should default to all")
	s.Require().Equal(int64(10), aws.Int64Value(dc.CustomErrorResponses.Items[0].ErrorCachingMinTTL), "the fallback ttl should be in seconds")
	s.Require().False(aws.BoolValue(dc.ViewerCertificate.CloudFrontDefaultCertificate), "the default certificate should not be used")

	s.config.Origins = s.config.Origins[:1]
	_, err = distributionConfig(s.config, "ref")
	s.Require().Error(err, "there should be an error without a default rule")
}

func (s *CloudFrontSuite) TestStatusAndInvalidate() {
	ref, err := s.client.ApplyDistribution(s.ctx, s.config)
	s.Require().NoError(err, "there should be no error creating the distribution")

	status, err := s.client.DistributionStatus(s.ctx, ref.Id)
	s.Require().NoError(err, "there should be no error reading the status")
	s.Require().Equal(models.DistributionDeploying, status, "a new distribution should be deploying")

	status, err = s.client.DistributionStatus(s.ctx, ref.Id)
	s.Require().NoError(err, "there should be no error reading the status")
	s.Require().Equal(models.DistributionDeployed, status, "the distribution should finish deploying")

	id, err := s.client.Invalidate(s.ctx, ref.Id, []string{"/", "/index.html"})
	s.Require().NoError(err, "there should be no error invalidating")
	s.Require().NotEmpty(id, "the invalidation should have an id")
	s.Require().Equal([][]string{{"/", "/index.html"}}, s.cloudfront.Invalidations(ref.Id), "the paths should be sent as given")

	s.cloudfront.RejectInvalidations = true
	_, err = s.client.Invalidate(s.ctx, ref.Id, []string{"/*"})
	s.Require().Error(err, "a rejected invalidation should be an error")

	_, err = s.client.DistributionStatus(s.ctx, "EMISSING")
	s.Require().Error(err, "there should be an error for an unknown distribution")
}

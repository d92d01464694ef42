package providers

import (
	"context"
	"testing"

	"github.com/18f/site-pipeline/fakes"
	"github.com/18f/site-pipeline/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type S3Suite struct {
	suite.Suite
	ctx    context.Context
	s3     *fakes.MockS3API
	client *S3
}

func TestS3Suite(t *testing.T) {
	suite.Run(t, new(S3Suite))
}

func (s *S3Suite) SetupTest() {
	s.ctx = context.Background()
	s.s3 = fakes.NewMockS3API("example.com")
	s.client = NewS3(s.s3)
}

func (s *S3Suite) TestPutSkipsUnchanged() {
	opts := models.PutOptions{ContentType: "text/html; charset=utf-8", CacheControl: "no-cache"}

	result, err := s.client.Put(s.ctx, "example.com", "index.html", []byte("<html>v1</html>"), opts)
	s.Require().NoError(err, "there should be no error putting a new object")
	s.Require().Equal(models.PutResult{Changed: true, DiffAvailable: true}, result, "a new object is a change")

	obj, ok := s.s3.Object("example.com", "index.html")
	s.Require().True(ok, "the object should be stored")
	s.Require().Equal("no-cache", obj.CacheControl, "the cache control should be stored")
	s.Require().Equal("text/html; charset=utf-8", obj.ContentType, "the content type should be stored")

	result, err = s.client.Put(s.ctx, "example.com", "index.html", []byte("<html>v1</html>"), opts)
	s.Require().NoError(err, "there should be no error putting the same object")
	s.Require().False(result.Changed, "the same bytes are not a change")
	s.Require().Equal(1, s.s3.PutCount, "the same bytes should not be written again")

	result, err = s.client.Put(s.ctx, "example.com", "index.html", []byte("<html>v2</html>"), opts)
	s.Require().NoError(err, "there should be no error putting new bytes")
	s.Require().True(result.Changed, "new bytes are a change")
}

func (s *S3Suite) TestPutRewritesChangedHeaders() {
	body := []byte("<html>v1</html>")
	_, err := s.client.Put(s.ctx, "example.com", "index.html", body, models.PutOptions{ContentType: "text/html; charset=utf-8", CacheControl: "no-cache"})
	s.Require().NoError(err, "there should be no error putting a new object")

	result, err := s.client.Put(s.ctx, "example.com", "index.html", body, models.PutOptions{ContentType: "text/html; charset=utf-8", CacheControl: "max-age=60"})
	s.Require().NoError(err, "there should be no error putting new headers")
	s.Require().True(result.Changed, "a new cache control is a change")
	s.Require().Equal(2, s.s3.PutCount, "the object should be written again")

	obj, _ := s.s3.Object("example.com", "index.html")
	s.Require().Equal("max-age=60", obj.CacheControl, "the new cache control should be stored")

	result, err = s.client.Put(s.ctx, "example.com", "index.html", body, models.PutOptions{ContentType: "text/plain", CacheControl: "max-age=60"})
	s.Require().NoError(err, "there should be no error putting a new content type")
	s.Require().True(result.Changed, "a new content type is a change")
	s.Require().Equal(3, s.s3.PutCount, "the object should be written again")
}

func (s *S3Suite) TestPutWithoutDiff() {
	s.s3.HeadError = errors.New("access denied")

	result, err := s.client.Put(s.ctx, "example.com", "app.js", []byte("1"), models.PutOptions{})
	s.Require().NoError(err, "there should be no error putting without a diff")
	s.Require().Equal(models.PutResult{Changed: true, DiffAvailable: false}, result, "the diff should be reported unavailable")
}

func (s *S3Suite) TestPutFailure() {
	s.s3.FailKeys["app.js"] = true
	_, err := s.client.Put(s.ctx, "example.com", "app.js", []byte("1"), models.PutOptions{})
	s.Require().Error(err, "there should be an error when the upload fails")
	s.Require().Contains(err.Error(), "app.js", "the error should name the key")
}

func (s *S3Suite) TestWebsiteEndpoint() {
	s.Require().Equal("example.com.s3-website-us-west-2.amazonaws.com", WebsiteEndpoint("example.com", "us-west-2"), "the endpoint should follow the bucket website format")
}

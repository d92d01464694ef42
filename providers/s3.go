package providers

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/18f/site-pipeline/models"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/pkg/errors"
)

// S3 is the object store for site artifacts.
type S3 struct {
	Service s3iface.S3API
}

func NewS3(svc s3iface.S3API) *S3 {
	return &S3{Service: svc}
}

// WebsiteEndpoint is the bucket's static website hostname, it only speaks plain HTTP.
func WebsiteEndpoint(bucket, region string) string {
	return fmt.Sprintf("%s.s3-website-%s.amazonaws.com", bucket, region)
}

// Put skips the write when the stored object already has the same content and headers. Artifacts are uploaded
// in a single part, so the ETag is the hex MD5 of the body.
func (s *S3) Put(ctx context.Context, bucket, key string, body []byte, opts models.PutOptions) (models.PutResult, error) {
	sum := md5.Sum(body)
	etag := hex.EncodeToString(sum[:])
	result := models.PutResult{Changed: true, DiffAvailable: true}

	head, err := s.Service.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	switch {
	case err == nil:
		if strings.Trim(aws.StringValue(head.ETag), `"`) == etag && sameHeaders(head, opts) {
			return models.PutResult{Changed: false, DiffAvailable: true}, nil
		}
	case isNotFound(err):
	default:
		// can't tell what's there, overwrite and let the caller invalidate everything.
		result.DiffAvailable = false
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if opts.CacheControl != "" {
		input.CacheControl = aws.String(opts.CacheControl)
	}

	if _, err := s.Service.PutObjectWithContext(ctx, input); err != nil {
		return models.PutResult{}, errors.Wrapf(err, "s3 put object %s", key)
	}

	return result, nil
}

// sameHeaders compares what the edge serves alongside the body. S3 picks its own content type when none is sent.
func sameHeaders(head *s3.HeadObjectOutput, opts models.PutOptions) bool {
	if opts.ContentType != "" && aws.StringValue(head.ContentType) != opts.ContentType {
		return false
	}
	return aws.StringValue(head.CacheControl) == opts.CacheControl
}

func isNotFound(err error) bool {
	if reqErr, ok := err.(awserr.RequestFailure); ok && reqErr.StatusCode() == http.StatusNotFound {
		return true
	}
	if aerr, ok := err.(awserr.Error); ok {
		return aerr.Code() == "NotFound" || aerr.Code() == s3.ErrCodeNoSuchKey
	}
	return false
}

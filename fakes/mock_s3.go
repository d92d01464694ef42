package fakes

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"net/http"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// StoredObject is what the fake bucket holds for a key.
type StoredObject struct {
	Body         []byte
	ContentType  string
	CacheControl string
	ETag         string
}

// MockS3API is an in memory object store.
type MockS3API struct {
	s3iface.S3API

	// Keys that fail to upload.
	FailKeys map[string]bool

	// Returned from every HeadObject call when set.
	HeadError error

	PutCount int

	mu      sync.Mutex
	buckets map[string]map[string]StoredObject
}

func NewMockS3API(buckets ...string) *MockS3API {
	m := &MockS3API{
		FailKeys: make(map[string]bool),
		buckets:  make(map[string]map[string]StoredObject),
	}
	for _, b := range buckets {
		m.buckets[b] = make(map[string]StoredObject)
	}
	return m
}

func (s3svc *MockS3API) HeadBucketWithContext(ctx aws.Context, input *s3.HeadBucketInput, opts ...request.Option) (*s3.HeadBucketOutput, error) {
	s3svc.mu.Lock()
	defer s3svc.mu.Unlock()
	if _, ok := s3svc.buckets[aws.StringValue(input.Bucket)]; !ok {
		return nil, awserr.NewRequestFailure(awserr.New("NotFound", "Not Found", nil), http.StatusNotFound, "fake")
	}
	return &s3.HeadBucketOutput{}, nil
}

func (s3svc *MockS3API) HeadObjectWithContext(ctx aws.Context, input *s3.HeadObjectInput, opts ...request.Option) (*s3.HeadObjectOutput, error) {
	s3svc.mu.Lock()
	defer s3svc.mu.Unlock()

	if s3svc.HeadError != nil {
		return nil, s3svc.HeadError
	}
	bucket, ok := s3svc.buckets[aws.StringValue(input.Bucket)]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchBucket, "no such bucket", nil)
	}
	obj, ok := bucket[aws.StringValue(input.Key)]
	if !ok {
		return nil, awserr.NewRequestFailure(awserr.New("NotFound", "Not Found", nil), http.StatusNotFound, "fake")
	}

	return &s3.HeadObjectOutput{
		ETag:          aws.String(`"` + obj.ETag + `"`),
		ContentLength: aws.Int64(int64(len(obj.Body))),
		ContentType:   aws.String(obj.ContentType),
		CacheControl:  aws.String(obj.CacheControl),
	}, nil
}

func (s3svc *MockS3API) PutObjectWithContext(ctx aws.Context, input *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error) {
	key := aws.StringValue(input.Key)
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}

	s3svc.mu.Lock()
	defer s3svc.mu.Unlock()

	if s3svc.FailKeys[key] {
		return nil, awserr.NewRequestFailure(awserr.New("InternalError", "We encountered an internal error", nil), http.StatusInternalServerError, "fake")
	}
	bucket, ok := s3svc.buckets[aws.StringValue(input.Bucket)]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchBucket, "no such bucket", nil)
	}

	sum := md5.Sum(body)
	etag := hex.EncodeToString(sum[:])
	bucket[key] = StoredObject{
		Body:         body,
		ContentType:  aws.StringValue(input.ContentType),
		CacheControl: aws.StringValue(input.CacheControl),
		ETag:         etag,
	}
	s3svc.PutCount++

	return &s3.PutObjectOutput{ETag: aws.String(`"` + etag + `"`)}, nil
}

// Object returns what is stored under key.
func (s3svc *MockS3API) Object(bucket, key string) (StoredObject, bool) {
	s3svc.mu.Lock()
	defer s3svc.mu.Unlock()
	obj, ok := s3svc.buckets[bucket][key]
	return obj, ok
}

// Website serves a bucket the way its static website endpoint does, without index or error documents.
func (s3svc *MockS3API) Website(bucket string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		obj, ok := s3svc.Object(bucket, trimSlash(r.URL.Path))
		if !ok {
			http.NotFound(w, r)
			return
		}
		if obj.ContentType != "" {
			w.Header().Set("Content-Type", obj.ContentType)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(obj.Body)
	})
}

func trimSlash(p string) string {
	for len(p) > 0 && p[0] == '/' {
		p = p[1:]
	}
	return p
}

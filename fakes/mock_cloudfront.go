package fakes

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/cloudfront"
	"github.com/aws/aws-sdk-go/service/cloudfront/cloudfrontiface"
	"github.com/pborman/uuid"
)

const (
	inProgress = "InProgress"
	deployed   = "Deployed"
)

// MockCloudFrontAPI keeps distributions and invalidations in memory.
type MockCloudFrontAPI struct {
	cloudfrontiface.CloudFrontAPI

	AccountId string

	// Number of get calls a distribution reports InProgress for after a create or update. Negative means it
	// never finishes deploying.
	DeployAfter int

	// Every invalidation is refused with TooManyInvalidationsInProgress.
	RejectInvalidations bool

	CreateCount int
	UpdateCount int

	mu            sync.Mutex
	distributions map[string]*cloudfront.Distribution
	etags         map[string]string
	getCalls      map[string]int
	invalidations map[string][][]string
}

func NewMockCloudFrontAPI() *MockCloudFrontAPI {
	return &MockCloudFrontAPI{
		AccountId:     strings.Replace(uuid.New(), "-", "", -1)[:12],
		distributions: make(map[string]*cloudfront.Distribution),
		etags:         make(map[string]string),
		getCalls:      make(map[string]int),
		invalidations: make(map[string][][]string),
	}
}

func (cf *MockCloudFrontAPI) Arner(id string) string {
	return fmt.Sprintf("arn:aws:cloudfront::%s:distribution/%s", cf.AccountId, id)
}

func (cf *MockCloudFrontAPI) newId() string {
	return "E" + strings.ToUpper(strings.Replace(uuid.New(), "-", "", -1))[:13]
}

func (cf *MockCloudFrontAPI) CreateDistributionWithContext(ctx aws.Context, input *cloudfront.CreateDistributionInput, opts ...request.Option) (*cloudfront.CreateDistributionOutput, error) {
	cf.mu.Lock()
	defer cf.mu.Unlock()

	ref := aws.StringValue(input.DistributionConfig.CallerReference)
	for _, d := range cf.distributions {
		if aws.StringValue(d.DistributionConfig.CallerReference) == ref {
			return nil, awserr.New(cloudfront.ErrCodeDistributionAlreadyExists, "caller reference already used", nil)
		}
	}

	id := cf.newId()
	d := &cloudfront.Distribution{
		Id:                 aws.String(id),
		ARN:                aws.String(cf.Arner(id)),
		DomainName:         aws.String(strings.ToLower(id[1:]) + ".cloudfront.net"),
		Status:             aws.String(inProgress),
		LastModifiedTime:   aws.Time(time.Now()),
		DistributionConfig: input.DistributionConfig,
	}
	cf.distributions[id] = d
	cf.etags[id] = uuid.New()
	cf.getCalls[id] = 0
	cf.CreateCount++

	return &cloudfront.CreateDistributionOutput{
		Distribution: d,
		ETag:         aws.String(cf.etags[id]),
		Location:     aws.String("https://cloudfront.amazonaws.com/2020-05-31/distribution/" + id),
	}, nil
}

func (cf *MockCloudFrontAPI) GetDistributionConfigWithContext(ctx aws.Context, input *cloudfront.GetDistributionConfigInput, opts ...request.Option) (*cloudfront.GetDistributionConfigOutput, error) {
	cf.mu.Lock()
	defer cf.mu.Unlock()

	d, ok := cf.distributions[aws.StringValue(input.Id)]
	if !ok {
		return nil, awserr.New(cloudfront.ErrCodeNoSuchDistribution, "no such distribution", nil)
	}
	return &cloudfront.GetDistributionConfigOutput{
		DistributionConfig: d.DistributionConfig,
		ETag:               aws.String(cf.etags[aws.StringValue(d.Id)]),
	}, nil
}

func (cf *MockCloudFrontAPI) UpdateDistributionWithContext(ctx aws.Context, input *cloudfront.UpdateDistributionInput, opts ...request.Option) (*cloudfront.UpdateDistributionOutput, error) {
	cf.mu.Lock()
	defer cf.mu.Unlock()

	id := aws.StringValue(input.Id)
	d, ok := cf.distributions[id]
	if !ok {
		return nil, awserr.New(cloudfront.ErrCodeNoSuchDistribution, "no such distribution", nil)
	}
	if aws.StringValue(input.IfMatch) != cf.etags[id] {
		return nil, awserr.New(cloudfront.ErrCodePreconditionFailed, "etag mismatch", nil)
	}
	if aws.StringValue(input.DistributionConfig.CallerReference) != aws.StringValue(d.DistributionConfig.CallerReference) {
		return nil, awserr.New(cloudfront.ErrCodeIllegalUpdate, "caller reference cannot change", nil)
	}

	d.DistributionConfig = input.DistributionConfig
	d.Status = aws.String(inProgress)
	d.LastModifiedTime = aws.Time(time.Now())
	cf.etags[id] = uuid.New()
	cf.getCalls[id] = 0
	cf.UpdateCount++

	return &cloudfront.UpdateDistributionOutput{
		Distribution: d,
		ETag:         aws.String(cf.etags[id]),
	}, nil
}

func (cf *MockCloudFrontAPI) GetDistributionWithContext(ctx aws.Context, input *cloudfront.GetDistributionInput, opts ...request.Option) (*cloudfront.GetDistributionOutput, error) {
	cf.mu.Lock()
	defer cf.mu.Unlock()

	id := aws.StringValue(input.Id)
	d, ok := cf.distributions[id]
	if !ok {
		return nil, awserr.New(cloudfront.ErrCodeNoSuchDistribution, "no such distribution", nil)
	}

	cf.getCalls[id]++
	if aws.StringValue(d.Status) == inProgress && cf.DeployAfter >= 0 && cf.getCalls[id] > cf.DeployAfter {
		d.Status = aws.String(deployed)
	}

	cp := *d
	return &cloudfront.GetDistributionOutput{Distribution: &cp, ETag: aws.String(cf.etags[id])}, nil
}

func (cf *MockCloudFrontAPI) ListDistributionsPagesWithContext(ctx aws.Context, input *cloudfront.ListDistributionsInput, fn func(*cloudfront.ListDistributionsOutput, bool) bool, opts ...request.Option) error {
	cf.mu.Lock()
	page := &cloudfront.ListDistributionsOutput{DistributionList: &cloudfront.DistributionList{}}
	for _, d := range cf.distributions {
		page.DistributionList.Items = append(page.DistributionList.Items, &cloudfront.DistributionSummary{
			Id:         d.Id,
			ARN:        d.ARN,
			DomainName: d.DomainName,
			Status:     d.Status,
			Aliases:    d.DistributionConfig.Aliases,
		})
	}
	page.DistributionList.Quantity = aws.Int64(int64(len(page.DistributionList.Items)))
	cf.mu.Unlock()

	fn(page, true)
	return nil
}

func (cf *MockCloudFrontAPI) ListDistributionsWithContext(ctx aws.Context, input *cloudfront.ListDistributionsInput, opts ...request.Option) (*cloudfront.ListDistributionsOutput, error) {
	var out *cloudfront.ListDistributionsOutput
	_ = cf.ListDistributionsPagesWithContext(ctx, input, func(page *cloudfront.ListDistributionsOutput, lastPage bool) bool {
		out = page
		return false
	})
	return out, nil
}

func (cf *MockCloudFrontAPI) CreateInvalidationWithContext(ctx aws.Context, input *cloudfront.CreateInvalidationInput, opts ...request.Option) (*cloudfront.CreateInvalidationOutput, error) {
	cf.mu.Lock()
	defer cf.mu.Unlock()

	id := aws.StringValue(input.DistributionId)
	if _, ok := cf.distributions[id]; !ok {
		return nil, awserr.New(cloudfront.ErrCodeNoSuchDistribution, "no such distribution", nil)
	}
	if cf.RejectInvalidations {
		return nil, awserr.New(cloudfront.ErrCodeTooManyInvalidationsInProgress, "too many invalidations in progress", nil)
	}

	paths := aws.StringValueSlice(input.InvalidationBatch.Paths.Items)
	cf.invalidations[id] = append(cf.invalidations[id], paths)

	return &cloudfront.CreateInvalidationOutput{
		Invalidation: &cloudfront.Invalidation{
			Id:                aws.String("I" + strings.ToUpper(strings.Replace(uuid.New(), "-", "", -1))[:13]),
			Status:            aws.String(inProgress),
			CreateTime:        aws.Time(time.Now()),
			InvalidationBatch: input.InvalidationBatch,
		},
	}, nil
}

// SetStatus forces a distribution into Deployed or InProgress.
func (cf *MockCloudFrontAPI) SetStatus(id string, isDeployed bool) {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	if d, ok := cf.distributions[id]; ok {
		if isDeployed {
			d.Status = aws.String(deployed)
		} else {
			d.Status = aws.String(inProgress)
			cf.getCalls[id] = 0
		}
	}
}

// Distribution returns the stored distribution.
func (cf *MockCloudFrontAPI) Distribution(id string) (*cloudfront.Distribution, bool) {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	d, ok := cf.distributions[id]
	return d, ok
}

// Invalidations returns every path batch sent for a distribution, oldest first.
func (cf *MockCloudFrontAPI) Invalidations(id string) [][]string {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	return append([][]string(nil), cf.invalidations[id]...)
}

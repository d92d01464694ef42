package fakes

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/acm"
	"github.com/aws/aws-sdk-go/service/acm/acmiface"
	"github.com/pborman/uuid"
	"github.com/samber/lo"
)

// MockACMAPI issues certificates in memory. Calls not used by the pipeline panic through the nil embedded
// interface.
type MockACMAPI struct {
	acmiface.ACMAPI

	AccountId string

	// Number of describe calls a pending certificate needs before it leaves pending validation. Negative
	// means it never does.
	IssueAfter int

	// Pending certificates fail validation instead of issuing.
	FailValidation bool

	RequestCount int

	mu            sync.Mutex
	certificates  map[string]*acm.CertificateDetail
	describeCalls map[string]int
	tokens        map[string]string
}

func NewMockACMAPI() *MockACMAPI {
	return &MockACMAPI{
		AccountId:     strings.Replace(uuid.New(), "-", "", -1)[:12],
		certificates:  make(map[string]*acm.CertificateDetail),
		describeCalls: make(map[string]int),
		tokens:        make(map[string]string),
	}
}

func (acmsvc *MockACMAPI) Arner() string {
	return fmt.Sprintf("arn:aws:acm:us-east-1:%s:certificate/%s", acmsvc.AccountId, uuid.New())
}

func (acmsvc *MockACMAPI) RequestCertificateWithContext(ctx aws.Context, input *acm.RequestCertificateInput, opts ...request.Option) (*acm.RequestCertificateOutput, error) {
	acmsvc.mu.Lock()
	defer acmsvc.mu.Unlock()

	domain := aws.StringValue(input.DomainName)
	if domain == "" || strings.ContainsAny(domain, " _/") || !strings.Contains(domain, ".") {
		return nil, awserr.New(acm.ErrCodeInvalidParameterException, "invalid domain name "+domain, nil)
	}

	token := aws.StringValue(input.IdempotencyToken)
	if arn, ok := acmsvc.tokens[token]; ok && token != "" {
		return &acm.RequestCertificateOutput{CertificateArn: aws.String(arn)}, nil
	}

	acmsvc.RequestCount++
	arn := acmsvc.Arner()
	names := aws.StringValueSlice(input.SubjectAlternativeNames)
	if !lo.Contains(names, domain) {
		names = append([]string{domain}, names...)
	}

	detail := &acm.CertificateDetail{
		CertificateArn:          aws.String(arn),
		DomainName:              aws.String(domain),
		SubjectAlternativeNames: aws.StringSlice(names),
		Status:                  aws.String(acm.CertificateStatusPendingValidation),
	}
	for _, name := range names {
		base := strings.TrimPrefix(name, "*.")
		hash := sha1.Sum([]byte(base))
		detail.DomainValidationOptions = append(detail.DomainValidationOptions, &acm.DomainValidation{
			DomainName:       aws.String(name),
			ValidationStatus: aws.String(acm.DomainStatusPendingValidation),
			ResourceRecord: &acm.ResourceRecord{
				Name:  aws.String(fmt.Sprintf("_%s.%s.", hex.EncodeToString(hash[:8]), base)),
				Type:  aws.String(acm.RecordTypeCname),
				Value: aws.String(fmt.Sprintf("_%s.acm-validations.aws.", hex.EncodeToString(hash[8:16]))),
			},
		})
	}

	acmsvc.certificates[arn] = detail
	acmsvc.tokens[token] = arn

	return &acm.RequestCertificateOutput{CertificateArn: aws.String(arn)}, nil
}

func (acmsvc *MockACMAPI) DescribeCertificateWithContext(ctx aws.Context, input *acm.DescribeCertificateInput, opts ...request.Option) (*acm.DescribeCertificateOutput, error) {
	acmsvc.mu.Lock()
	defer acmsvc.mu.Unlock()

	arn := aws.StringValue(input.CertificateArn)
	detail, ok := acmsvc.certificates[arn]
	if !ok {
		return nil, awserr.New(acm.ErrCodeResourceNotFoundException, "no such certificate "+arn, nil)
	}

	acmsvc.describeCalls[arn]++
	if aws.StringValue(detail.Status) == acm.CertificateStatusPendingValidation &&
		acmsvc.IssueAfter >= 0 && acmsvc.describeCalls[arn] > acmsvc.IssueAfter {
		if acmsvc.FailValidation {
			detail.Status = aws.String(acm.CertificateStatusFailed)
		} else {
			detail.Status = aws.String(acm.CertificateStatusIssued)
		}
	}

	cp := *detail
	return &acm.DescribeCertificateOutput{Certificate: &cp}, nil
}

func (acmsvc *MockACMAPI) ListCertificatesPagesWithContext(ctx aws.Context, input *acm.ListCertificatesInput, fn func(*acm.ListCertificatesOutput, bool) bool, opts ...request.Option) error {
	acmsvc.mu.Lock()
	statuses := aws.StringValueSlice(input.CertificateStatuses)
	page := &acm.ListCertificatesOutput{}
	for _, v := range acmsvc.certificates {
		if len(statuses) > 0 && !lo.Contains(statuses, aws.StringValue(v.Status)) {
			continue
		}
		page.CertificateSummaryList = append(page.CertificateSummaryList, &acm.CertificateSummary{
			CertificateArn: v.CertificateArn,
			DomainName:     v.DomainName,
		})
	}
	acmsvc.mu.Unlock()

	fn(page, true)
	return nil
}

// SetStatus forces a certificate into an ACM status.
func (acmsvc *MockACMAPI) SetStatus(arn, status string) {
	acmsvc.mu.Lock()
	defer acmsvc.mu.Unlock()
	if detail, ok := acmsvc.certificates[arn]; ok {
		detail.Status = aws.String(status)
	}
}

// Certificate returns a copy of the stored detail.
func (acmsvc *MockACMAPI) Certificate(arn string) (acm.CertificateDetail, bool) {
	acmsvc.mu.Lock()
	defer acmsvc.mu.Unlock()
	detail, ok := acmsvc.certificates[arn]
	if !ok {
		return acm.CertificateDetail{}, false
	}
	return *detail, true
}

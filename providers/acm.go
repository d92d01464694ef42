package providers

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/18f/site-pipeline/interfaces"
	"github.com/18f/site-pipeline/models"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/acm"
	"github.com/aws/aws-sdk-go/service/acm/acmiface"
	"github.com/pborman/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// ACM is a certificate authority bound to a single region.
type ACM struct {
	Service acmiface.ACMAPI
	Region  string
}

func NewACM(svc acmiface.ACMAPI, region string) *ACM {
	return &ACM{Service: svc, Region: region}
}

func (a *ACM) checkRegion(region string) error {
	if region != a.Region {
		return fmt.Errorf("acm client is in %s, certificate must be issued in %s", a.Region, region)
	}
	return nil
}

// FindCertificate looks for an issued or pending certificate with exactly the requested names.
func (a *ACM) FindCertificate(ctx context.Context, domain string, alternativeNames []string, region string) (string, bool, error) {
	if err := a.checkRegion(region); err != nil {
		return "", false, err
	}

	var candidates []string
	err := a.Service.ListCertificatesPagesWithContext(ctx, &acm.ListCertificatesInput{
		CertificateStatuses: aws.StringSlice([]string{acm.CertificateStatusIssued, acm.CertificateStatusPendingValidation}),
	}, func(page *acm.ListCertificatesOutput, lastPage bool) bool {
		for _, v := range page.CertificateSummaryList {
			if strings.EqualFold(aws.StringValue(v.DomainName), domain) {
				candidates = append(candidates, aws.StringValue(v.CertificateArn))
			}
		}
		return true
	})
	if err != nil {
		return "", false, errors.Wrap(err, "acm list certificates")
	}

	want := normalizeNames(alternativeNames)
	for _, arn := range candidates {
		detail, err := a.describe(ctx, arn)
		if err != nil {
			return "", false, err
		}
		if lo.Contains([]string{acm.CertificateStatusIssued, acm.CertificateStatusPendingValidation}, aws.StringValue(detail.Status)) &&
			strings.Join(normalizeNames(aws.StringValueSlice(detail.SubjectAlternativeNames)), ",") == strings.Join(want, ",") {
			return arn, true, nil
		}
	}

	return "", false, nil
}

// RequestCertificate asks for a DNS validated certificate. The idempotency token is derived from the names so
// a repeated request inside ACM's idempotency window returns the same certificate.
func (a *ACM) RequestCertificate(ctx context.Context, request models.CertificateRequest) (string, error) {
	if err := a.checkRegion(request.Region); err != nil {
		return "", err
	}

	names := normalizeNames(request.AlternativeNames)
	token := strings.Replace(uuid.NewSHA1(uuid.NameSpace_DNS, []byte(strings.Join(names, ","))).String(), "-", "", -1)

	resp, err := a.Service.RequestCertificateWithContext(ctx, &acm.RequestCertificateInput{
		DomainName:              aws.String(request.Domain),
		SubjectAlternativeNames: aws.StringSlice(request.AlternativeNames),
		ValidationMethod:        aws.String(acm.ValidationMethodDns),
		IdempotencyToken:        aws.String(token),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok {
			switch aerr.Code() {
			case acm.ErrCodeInvalidDomainValidationOptionsException, acm.ErrCodeInvalidParameterException:
				return "", errors.Wrap(interfaces.ErrInvalidCertificateRequest, aerr.Message())
			}
		}
		return "", errors.Wrap(err, "acm request certificate")
	}

	return aws.StringValue(resp.CertificateArn), nil
}

func (a *ACM) CertificateStatus(ctx context.Context, handle string) (models.CertificateStatus, error) {
	detail, err := a.describe(ctx, handle)
	if err != nil {
		return "", err
	}

	switch aws.StringValue(detail.Status) {
	case acm.CertificateStatusIssued:
		return models.CertificateValidated, nil
	case acm.CertificateStatusPendingValidation:
		return models.CertificatePending, nil
	default:
		return models.CertificateFailed, nil
	}
}

// ValidationRecords returns the distinct records ACM wants to see. The apex and the wildcard share one.
func (a *ACM) ValidationRecords(ctx context.Context, handle string) ([]models.ValidationRecord, error) {
	detail, err := a.describe(ctx, handle)
	if err != nil {
		return nil, err
	}

	var records []models.ValidationRecord
	for _, v := range detail.DomainValidationOptions {
		if v.ResourceRecord == nil {
			continue
		}
		records = append(records, models.ValidationRecord{
			Name:  aws.StringValue(v.ResourceRecord.Name),
			Type:  aws.StringValue(v.ResourceRecord.Type),
			Value: aws.StringValue(v.ResourceRecord.Value),
		})
	}

	return lo.UniqBy(records, func(r models.ValidationRecord) string {
		return strings.ToLower(r.Name)
	}), nil
}

func (a *ACM) describe(ctx context.Context, arn string) (*acm.CertificateDetail, error) {
	resp, err := a.Service.DescribeCertificateWithContext(ctx, &acm.DescribeCertificateInput{
		CertificateArn: aws.String(arn),
	})
	if err != nil {
		return nil, errors.Wrap(err, "acm describe certificate")
	}
	if resp.Certificate == nil {
		return nil, fmt.Errorf("acm returned no detail for %s", arn)
	}
	return resp.Certificate, nil
}

func normalizeNames(names []string) []string {
	out := lo.Uniq(lo.Map(names, func(n string, _ int) string {
		return strings.ToLower(n)
	}))
	sort.Strings(out)
	return out
}

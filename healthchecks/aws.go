package healthchecks

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/cloudfront"
	"github.com/aws/aws-sdk-go/service/cloudfront/cloudfrontiface"
	"github.com/aws/aws-sdk-go/service/route53"
	"github.com/aws/aws-sdk-go/service/route53/route53iface"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/go-acme/lego/v4/challenge/dns01"
	"github.com/pkg/errors"
)

// CloudFront checks the distribution API answers.
func CloudFront(svc cloudfrontiface.CloudFrontAPI) Check {
	return func(ctx context.Context) error {
		_, err := svc.ListDistributionsWithContext(ctx, &cloudfront.ListDistributionsInput{
			MaxItems: aws.Int64(1),
		})
		return err
	}
}

// Route53 checks the hosted zone for domain can be found.
func Route53(svc route53iface.Route53API, domain string) Check {
	return func(ctx context.Context) error {
		out, err := svc.ListHostedZonesByNameWithContext(ctx, &route53.ListHostedZonesByNameInput{
			DNSName:  aws.String(domain),
			MaxItems: aws.String("1"),
		})
		if err != nil {
			return err
		}
		if len(out.HostedZones) == 0 || !strings.EqualFold(aws.StringValue(out.HostedZones[0].Name), dns01.ToFqdn(domain)) {
			return errors.Errorf("no hosted zone for %s", domain)
		}
		return nil
	}
}

// Bucket checks the destination bucket exists and is reachable.
func Bucket(svc s3iface.S3API, bucket string) Check {
	return func(ctx context.Context) error {
		_, err := svc.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
			Bucket: aws.String(bucket),
		})
		return errors.Wrapf(err, "bucket %s", bucket)
	}
}

package providers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	sitepipeline "github.com/18f/site-pipeline"
	"github.com/18f/site-pipeline/models"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/cloudfront"
	"github.com/aws/aws-sdk-go/service/cloudfront/cloudfrontiface"
	"github.com/pborman/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

const deployedStatus = "Deployed"

// CloudFront is the CDN provider.
type CloudFront struct {
	Service cloudfrontiface.CloudFrontAPI
}

func NewCloudFront(svc cloudfrontiface.CloudFrontAPI) *CloudFront {
	return &CloudFront{Service: svc}
}

// ApplyDistribution updates the distribution that already serves the first alias, or creates one. Updates
// replace the whole config so reordered or removed rules don't linger.
func (c *CloudFront) ApplyDistribution(ctx context.Context, config models.DistributionConfig) (models.DistributionRef, error) {
	if len(config.DomainAliases) == 0 {
		return models.DistributionRef{}, errors.New("a distribution needs at least one alias")
	}

	existing, err := c.findByAlias(ctx, config.DomainAliases[0])
	if err != nil {
		return models.DistributionRef{}, err
	}

	if existing == "" {
		dc, err := distributionConfig(config, CallerReference(config.DomainAliases[0]))
		if err != nil {
			return models.DistributionRef{}, err
		}
		resp, err := c.Service.CreateDistributionWithContext(ctx, &cloudfront.CreateDistributionInput{
			DistributionConfig: dc,
		})
		if err != nil {
			return models.DistributionRef{}, errors.Wrap(err, "cloudfront create distribution")
		}
		return distributionRef(resp.Distribution), nil
	}

	current, err := c.Service.GetDistributionConfigWithContext(ctx, &cloudfront.GetDistributionConfigInput{
		Id: aws.String(existing),
	})
	if err != nil {
		return models.DistributionRef{}, errors.Wrap(err, "cloudfront get distribution config")
	}

	dc, err := distributionConfig(config, aws.StringValue(current.DistributionConfig.CallerReference))
	if err != nil {
		return models.DistributionRef{}, err
	}
	resp, err := c.Service.UpdateDistributionWithContext(ctx, &cloudfront.UpdateDistributionInput{
		Id:                 aws.String(existing),
		IfMatch:            current.ETag,
		DistributionConfig: dc,
	})
	if err != nil {
		return models.DistributionRef{}, errors.Wrap(err, "cloudfront update distribution")
	}

	return distributionRef(resp.Distribution), nil
}

func (c *CloudFront) DistributionStatus(ctx context.Context, id string) (models.DistributionStatus, error) {
	resp, err := c.Service.GetDistributionWithContext(ctx, &cloudfront.GetDistributionInput{
		Id: aws.String(id),
	})
	if err != nil {
		return "", errors.Wrap(err, "cloudfront get distribution")
	}

	if aws.StringValue(resp.Distribution.Status) == deployedStatus {
		return models.DistributionDeployed, nil
	}
	return models.DistributionDeploying, nil
}

func (c *CloudFront) Invalidate(ctx context.Context, id string, paths []string) (string, error) {
	resp, err := c.Service.CreateInvalidationWithContext(ctx, &cloudfront.CreateInvalidationInput{
		DistributionId: aws.String(id),
		InvalidationBatch: &cloudfront.InvalidationBatch{
			CallerReference: aws.String(uuid.New()),
			Paths: &cloudfront.Paths{
				Quantity: aws.Int64(int64(len(paths))),
				Items:    aws.StringSlice(paths),
			},
		},
	})
	if err != nil {
		return "", errors.Wrap(err, "cloudfront create invalidation")
	}

	return aws.StringValue(resp.Invalidation.Id), nil
}

func (c *CloudFront) findByAlias(ctx context.Context, alias string) (string, error) {
	var id string
	err := c.Service.ListDistributionsPagesWithContext(ctx, &cloudfront.ListDistributionsInput{},
		func(page *cloudfront.ListDistributionsOutput, lastPage bool) bool {
			if page.DistributionList == nil {
				return true
			}
			for _, v := range page.DistributionList.Items {
				if v.Aliases == nil {
					continue
				}
				if lo.ContainsBy(v.Aliases.Items, func(a *string) bool {
					return strings.EqualFold(aws.StringValue(a), alias)
				}) {
					id = aws.StringValue(v.Id)
					return false
				}
			}
			return true
		})
	if err != nil {
		return "", errors.Wrap(err, "cloudfront list distributions")
	}
	return id, nil
}

// CallerReference is stable per site so a repeated create is recognised by CloudFront.
func CallerReference(alias string) string {
	return uuid.NewSHA1(uuid.NameSpace_DNS, []byte(strings.ToLower(alias))).String()
}

func distributionRef(d *cloudfront.Distribution) models.DistributionRef {
	return models.DistributionRef{
		Id:         aws.StringValue(d.Id),
		Arn:        aws.StringValue(d.ARN),
		DomainName: aws.StringValue(d.DomainName),
	}
}

func distributionConfig(config models.DistributionConfig, callerReference string) (*cloudfront.DistributionConfig, error) {
	rules := lo.Filter(config.Origins, func(r models.OriginRule, _ int) bool { return !r.Default })
	defaults := lo.Filter(config.Origins, func(r models.OriginRule, _ int) bool { return r.Default })
	if len(defaults) != 1 {
		return nil, fmt.Errorf("expected exactly one default rule, got %d", len(defaults))
	}

	origins := lo.UniqBy(lo.Map(config.Origins, func(r models.OriginRule, _ int) models.OriginRef {
		return r.Origin
	}), func(o models.OriginRef) string { return o.Id })

	behaviors := lo.Map(rules, func(r models.OriginRule, _ int) *cloudfront.CacheBehavior {
		b := &cloudfront.CacheBehavior{
			PathPattern:          aws.String(r.PathPattern),
			TargetOriginId:       aws.String(r.Origin.Id),
			ViewerProtocolPolicy: aws.String(cloudfront.ViewerProtocolPolicyRedirectToHttps),
			AllowedMethods:       allowedMethods(r.AllowedMethods),
			ForwardedValues:      forwardedValues(r),
			Compress:             aws.Bool(true),
			MinTTL:               aws.Int64(0),
		}
		if r.CacheTtl != nil {
			b.MinTTL = aws.Int64(r.CacheTtl.Min)
			b.MaxTTL = aws.Int64(r.CacheTtl.Max)
			b.DefaultTTL = aws.Int64(r.CacheTtl.Default)
		}
		return b
	})

	def := defaults[0]
	defaultBehavior := &cloudfront.DefaultCacheBehavior{
		TargetOriginId:       aws.String(def.Origin.Id),
		ViewerProtocolPolicy: aws.String(cloudfront.ViewerProtocolPolicyRedirectToHttps),
		AllowedMethods:       allowedMethods(def.AllowedMethods),
		ForwardedValues:      forwardedValues(def),
		Compress:             aws.Bool(true),
		MinTTL:               aws.Int64(0),
	}
	if def.CacheTtl != nil {
		defaultBehavior.MinTTL = aws.Int64(def.CacheTtl.Min)
		defaultBehavior.MaxTTL = aws.Int64(def.CacheTtl.Max)
		defaultBehavior.DefaultTTL = aws.Int64(def.CacheTtl.Default)
	}

	priceClass := config.PriceClass
	if priceClass == "" {
		priceClass = cloudfront.PriceClassPriceClassAll
	}

	return &cloudfront.DistributionConfig{
		CallerReference:   aws.String(callerReference),
		Comment:           aws.String(fmt.Sprintf("%s: %s", sitepipeline.PipelineName, config.DomainAliases[0])),
		Enabled:           aws.Bool(true),
		DefaultRootObject: aws.String(config.RootObject),
		HttpVersion:       aws.String(cloudfront.HttpVersionHttp2),
		IsIPV6Enabled:     aws.Bool(true),
		PriceClass:        aws.String(priceClass),
		Aliases: &cloudfront.Aliases{
			Quantity: aws.Int64(int64(len(config.DomainAliases))),
			Items:    aws.StringSlice(config.DomainAliases),
		},
		Origins: &cloudfront.Origins{
			Quantity: aws.Int64(int64(len(origins))),
			Items: lo.Map(origins, func(o models.OriginRef, _ int) *cloudfront.Origin {
				return &cloudfront.Origin{
					Id:         aws.String(o.Id),
					DomainName: aws.String(o.DomainName),
					CustomOriginConfig: &cloudfront.CustomOriginConfig{
						HTTPPort:             aws.Int64(80),
						HTTPSPort:            aws.Int64(443),
						OriginProtocolPolicy: aws.String(string(o.Protocol)),
						OriginSslProtocols: &cloudfront.OriginSslProtocols{
							Quantity: aws.Int64(1),
							Items:    aws.StringSlice([]string{cloudfront.SslProtocolTlsv12}),
						},
					},
				}
			}),
		},
		DefaultCacheBehavior: defaultBehavior,
		CacheBehaviors: &cloudfront.CacheBehaviors{
			Quantity: aws.Int64(int64(len(behaviors))),
			Items:    behaviors,
		},
		CustomErrorResponses: &cloudfront.CustomErrorResponses{
			Quantity: aws.Int64(1),
			Items: []*cloudfront.CustomErrorResponse{
				{
					ErrorCode:          aws.Int64(int64(config.Fallback.MatchStatus)),
					ErrorCachingMinTTL: aws.Int64(int64(config.Fallback.CacheTtl.Seconds())),
					ResponseCode:       aws.String(strconv.Itoa(config.Fallback.RespondStatus)),
					ResponsePagePath:   aws.String(config.Fallback.RewriteTo),
				},
			},
		},
		ViewerCertificate: &cloudfront.ViewerCertificate{
			ACMCertificateArn:            aws.String(config.Certificate.Id),
			CloudFrontDefaultCertificate: aws.Bool(false),
			SSLSupportMethod:             aws.String(cloudfront.SSLSupportMethodSniOnly),
			MinimumProtocolVersion:       aws.String(config.MinimumProtocolVersion),
		},
	}, nil
}

func allowedMethods(methods []string) *cloudfront.AllowedMethods {
	cached := lo.Intersect([]string{"GET", "HEAD"}, methods)
	return &cloudfront.AllowedMethods{
		Quantity: aws.Int64(int64(len(methods))),
		Items:    aws.StringSlice(methods),
		CachedMethods: &cloudfront.CachedMethods{
			Quantity: aws.Int64(int64(len(cached))),
			Items:    aws.StringSlice(cached),
		},
	}
}

func forwardedValues(r models.OriginRule) *cloudfront.ForwardedValues {
	return &cloudfront.ForwardedValues{
		QueryString: aws.Bool(r.ForwardQueryString),
		Cookies: &cloudfront.CookiePreference{
			Forward: aws.String(cloudfront.ItemSelectionNone),
		},
		Headers: &cloudfront.Headers{
			Quantity: aws.Int64(int64(len(r.ForwardedHeaders))),
			Items:    aws.StringSlice(r.ForwardedHeaders),
		},
	}
}

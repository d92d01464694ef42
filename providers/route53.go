package providers

import (
	"context"
	"strings"

	sitepipeline "github.com/18f/site-pipeline"
	"github.com/18f/site-pipeline/interfaces"
	"github.com/18f/site-pipeline/models"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/route53"
	"github.com/aws/aws-sdk-go/service/route53/route53iface"
	"github.com/go-acme/lego/v4/challenge/dns01"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

const validationRecordTtl = 300

// Route53 is both the zone lookup and the DNS provider.
type Route53 struct {
	Service route53iface.Route53API
}

func NewRoute53(svc route53iface.Route53API) *Route53 {
	return &Route53{Service: svc}
}

// FindZone returns the public hosted zone named exactly domain.
func (r *Route53) FindZone(ctx context.Context, domain string) (models.ZoneRef, error) {
	fqdn := dns01.ToFqdn(strings.ToLower(domain))

	resp, err := r.Service.ListHostedZonesByNameWithContext(ctx, &route53.ListHostedZonesByNameInput{
		DNSName:  aws.String(fqdn),
		MaxItems: aws.String("10"),
	})
	if err != nil {
		return models.ZoneRef{}, errors.Wrap(err, "route53 list hosted zones")
	}

	// the listing starts at the name, it will happily return zones that sort after it.
	zone, ok := lo.Find(resp.HostedZones, func(z *route53.HostedZone) bool {
		private := z.Config != nil && aws.BoolValue(z.Config.PrivateZone)
		return strings.EqualFold(aws.StringValue(z.Name), fqdn) && !private
	})
	if !ok {
		return models.ZoneRef{}, interfaces.ErrZoneNotFound
	}

	return models.ZoneRef{
		Id:   strings.TrimPrefix(aws.StringValue(zone.Id), "/hostedzone/"),
		Name: dns01.UnFqdn(aws.StringValue(zone.Name)),
	}, nil
}

// UpsertAliasRecord points both A and AAAA for name at target.
func (r *Route53) UpsertAliasRecord(ctx context.Context, zone models.ZoneRef, name string, target models.AliasTarget) error {
	changes := lo.Map([]string{route53.RRTypeA, route53.RRTypeAaaa}, func(rrType string, _ int) *route53.Change {
		return &route53.Change{
			Action: aws.String(route53.ChangeActionUpsert),
			ResourceRecordSet: &route53.ResourceRecordSet{
				Name: aws.String(dns01.ToFqdn(name)),
				Type: aws.String(rrType),
				AliasTarget: &route53.AliasTarget{
					DNSName:              aws.String(dns01.ToFqdn(target.DNSName)),
					HostedZoneId:         aws.String(target.HostedZoneId),
					EvaluateTargetHealth: aws.Bool(false),
				},
			},
		}
	})

	return r.change(ctx, zone, "alias for "+name, changes)
}

// UpsertValidationRecord writes a certificate validation record into the zone.
func (r *Route53) UpsertValidationRecord(ctx context.Context, zone models.ZoneRef, record models.ValidationRecord) error {
	rrType := record.Type
	if rrType == "" {
		rrType = route53.RRTypeCname
	}

	return r.change(ctx, zone, "certificate validation", []*route53.Change{
		{
			Action: aws.String(route53.ChangeActionUpsert),
			ResourceRecordSet: &route53.ResourceRecordSet{
				Name: aws.String(dns01.ToFqdn(record.Name)),
				Type: aws.String(rrType),
				TTL:  aws.Int64(validationRecordTtl),
				ResourceRecords: []*route53.ResourceRecord{
					{Value: aws.String(record.Value)},
				},
			},
		},
	})
}

func (r *Route53) change(ctx context.Context, zone models.ZoneRef, comment string, changes []*route53.Change) error {
	_, err := r.Service.ChangeResourceRecordSetsWithContext(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(zone.Id),
		ChangeBatch: &route53.ChangeBatch{
			Comment: aws.String(sitepipeline.PipelineName + ": " + comment),
			Changes: changes,
		},
	})
	return errors.Wrap(err, "route53 change resource record sets")
}

package fakes

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/route53"
	"github.com/aws/aws-sdk-go/service/route53/route53iface"
	"github.com/pborman/uuid"
)

// MockRoute53API keeps hosted zones and record sets in memory.
type MockRoute53API struct {
	route53iface.Route53API

	ChangeCount int

	mu      sync.Mutex
	zones   []*route53.HostedZone
	records map[string]map[string]*route53.ResourceRecordSet
}

func NewMockRoute53API() *MockRoute53API {
	return &MockRoute53API{
		records: make(map[string]map[string]*route53.ResourceRecordSet),
	}
}

// AddZone creates a hosted zone and returns its bare id.
func (r53 *MockRoute53API) AddZone(name string, private bool) string {
	r53.mu.Lock()
	defer r53.mu.Unlock()

	id := strings.ToUpper(strings.Replace(uuid.New(), "-", "", -1))[:14]
	if !strings.HasSuffix(name, ".") {
		name = name + "."
	}
	r53.zones = append(r53.zones, &route53.HostedZone{
		Id:   aws.String("/hostedzone/" + id),
		Name: aws.String(name),
		Config: &route53.HostedZoneConfig{
			PrivateZone: aws.Bool(private),
		},
	})
	r53.records[id] = make(map[string]*route53.ResourceRecordSet)
	return id
}

func (r53 *MockRoute53API) ListHostedZonesByNameWithContext(ctx aws.Context, input *route53.ListHostedZonesByNameInput, opts ...request.Option) (*route53.ListHostedZonesByNameOutput, error) {
	r53.mu.Lock()
	defer r53.mu.Unlock()

	zones := make([]*route53.HostedZone, len(r53.zones))
	copy(zones, r53.zones)
	sort.Slice(zones, func(i, j int) bool {
		return aws.StringValue(zones[i].Name) < aws.StringValue(zones[j].Name)
	})

	start := aws.StringValue(input.DNSName)
	out := &route53.ListHostedZonesByNameOutput{DNSName: input.DNSName}
	for _, z := range zones {
		if aws.StringValue(z.Name) >= start {
			out.HostedZones = append(out.HostedZones, z)
		}
	}
	return out, nil
}

func (r53 *MockRoute53API) ChangeResourceRecordSetsWithContext(ctx aws.Context, input *route53.ChangeResourceRecordSetsInput, opts ...request.Option) (*route53.ChangeResourceRecordSetsOutput, error) {
	r53.mu.Lock()
	defer r53.mu.Unlock()

	zone, ok := r53.records[aws.StringValue(input.HostedZoneId)]
	if !ok {
		return nil, awserr.New(route53.ErrCodeNoSuchHostedZone, "no such hosted zone", nil)
	}

	for _, change := range input.ChangeBatch.Changes {
		set := change.ResourceRecordSet
		key := recordKey(aws.StringValue(set.Name), aws.StringValue(set.Type))
		switch aws.StringValue(change.Action) {
		case route53.ChangeActionUpsert:
			zone[key] = set
		case route53.ChangeActionCreate:
			if _, exists := zone[key]; exists {
				return nil, awserr.New(route53.ErrCodeInvalidChangeBatch, "record already exists", nil)
			}
			zone[key] = set
		case route53.ChangeActionDelete:
			delete(zone, key)
		default:
			return nil, awserr.New(route53.ErrCodeInvalidInput, fmt.Sprintf("unknown action %s", aws.StringValue(change.Action)), nil)
		}
	}

	r53.ChangeCount++
	return &route53.ChangeResourceRecordSetsOutput{
		ChangeInfo: &route53.ChangeInfo{
			Id:     aws.String(uuid.New()),
			Status: aws.String(route53.ChangeStatusInsync),
		},
	}, nil
}

// Record returns the record set stored under name and type, if any.
func (r53 *MockRoute53API) Record(zoneId, name, rrType string) (*route53.ResourceRecordSet, bool) {
	r53.mu.Lock()
	defer r53.mu.Unlock()
	set, ok := r53.records[zoneId][recordKey(name, rrType)]
	return set, ok
}

// RecordCount in a zone.
func (r53 *MockRoute53API) RecordCount(zoneId string) int {
	r53.mu.Lock()
	defer r53.mu.Unlock()
	return len(r53.records[zoneId])
}

func recordKey(name, rrType string) string {
	name = strings.ToLower(name)
	if !strings.HasSuffix(name, ".") {
		name = name + "."
	}
	return name + "|" + rrType
}

package interfaces

import (
	"context"
	"errors"

	"github.com/18f/site-pipeline/models"
)

// ErrZoneNotFound is returned by a ZoneLookup when there is no managed zone for the domain.
var ErrZoneNotFound = errors.New("zone not found")

type ZoneLookup interface {
	FindZone(ctx context.Context, domain string) (models.ZoneRef, error)
}

// DNSProvider mutates record sets. Both calls must be safe to repeat.
type DNSProvider interface {
	UpsertAliasRecord(ctx context.Context, zone models.ZoneRef, name string, target models.AliasTarget) error
	UpsertValidationRecord(ctx context.Context, zone models.ZoneRef, record models.ValidationRecord) error
}

package managers

import (
	"context"

	"code.cloudfoundry.org/lager/v3"
	"github.com/18f/site-pipeline/interfaces"
	"github.com/18f/site-pipeline/models"
	"github.com/pkg/errors"
)

type ZoneResolverSettings struct {
	Lookup interfaces.ZoneLookup
	Logger lager.Logger
}

// ZoneResolver finds the managed zone the site lives in. It never mutates anything.
type ZoneResolver struct {
	lookup interfaces.ZoneLookup
	logger lager.Logger
}

func NewZoneResolver(settings *ZoneResolverSettings) (*ZoneResolver, error) {
	if settings.Lookup == nil {
		return nil, errors.New("zone lookup cannot be nil")
	}
	return &ZoneResolver{
		lookup: settings.Lookup,
		logger: settings.Logger.Session("zone-resolver"),
	}, nil
}

func (z *ZoneResolver) Resolve(ctx context.Context, domain string) (models.ZoneRef, error) {
	lsession := z.logger.Session("resolve", lager.Data{
		"domain": domain,
	})

	zone, err := z.lookup.FindZone(ctx, domain)
	if err != nil {
		if errors.Is(err, interfaces.ErrZoneNotFound) {
			zerr := &ZoneNotFoundError{Domain: domain}
			lsession.Error("zone-not-found", zerr)
			return models.ZoneRef{}, zerr
		}
		lsession.Error("find-zone", err)
		return models.ZoneRef{}, providerError(ZoneResolverComponent, "find zone", err)
	}

	lsession.Info("resolved", lager.Data{
		"zone-id": zone.Id,
	})
	return zone, nil
}

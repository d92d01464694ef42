package managers

import (
	"context"

	"code.cloudfoundry.org/lager/v3"
	sitepipeline "github.com/18f/site-pipeline"
	"github.com/18f/site-pipeline/interfaces"
	"github.com/18f/site-pipeline/models"
	"github.com/pkg/errors"
)

type AliasBinderSettings struct {
	CDN    interfaces.CDNProvider
	DNS    interfaces.DNSProvider
	Logger lager.Logger
}

// AliasBinder points the site name at its distribution.
type AliasBinder struct {
	cdn    interfaces.CDNProvider
	dns    interfaces.DNSProvider
	logger lager.Logger
}

func NewAliasBinder(settings *AliasBinderSettings) (*AliasBinder, error) {
	if settings.CDN == nil || settings.DNS == nil {
		return nil, errors.New("alias binder needs both a cdn and a dns provider")
	}
	return &AliasBinder{
		cdn:    settings.CDN,
		dns:    settings.DNS,
		logger: settings.Logger.Session("alias-binder"),
	}, nil
}

// Bind upserts the alias for every name the distribution serves. It refuses to touch DNS unless the provider
// reports the distribution as deployed, so a dangling alias is never created.
func (a *AliasBinder) Bind(ctx context.Context, zone models.ZoneRef, dist models.Distribution) (models.AliasRecord, error) {
	lsession := a.logger.Session("bind", lager.Data{
		"zone-id":         zone.Id,
		"distribution-id": dist.Id,
	})

	if dist.Id == "" || dist.DomainName == "" {
		nerr := &DistributionNotReadyError{DistributionId: dist.Id, Status: "unprovisioned"}
		lsession.Error("distribution-not-provisioned", nerr)
		return models.AliasRecord{}, nerr
	}

	status, err := a.cdn.DistributionStatus(ctx, dist.Id)
	if err != nil {
		lsession.Error("distribution-status", err)
		return models.AliasRecord{}, providerError(AliasBinderComponent, "distribution status", err)
	}
	if status != models.DistributionDeployed {
		nerr := &DistributionNotReadyError{DistributionId: dist.Id, Status: string(status)}
		lsession.Error("distribution-not-ready", nerr)
		return models.AliasRecord{}, nerr
	}

	names := dist.DomainAliases
	if len(names) == 0 {
		names = []string{zone.Name}
	}

	target := models.AliasTarget{
		DNSName:      dist.DomainName,
		HostedZoneId: sitepipeline.CloudFrontHostedZoneId,
	}
	for _, name := range names {
		// a cancelled deploy must not leave a half-bound alias behind.
		if err := ctx.Err(); err != nil {
			lsession.Error("cancelled", err)
			return models.AliasRecord{}, providerError(AliasBinderComponent, "upsert alias record", err)
		}
		if err := a.dns.UpsertAliasRecord(ctx, zone, name, target); err != nil {
			lsession.Error("upsert-alias-record", err, lager.Data{"name": name})
			return models.AliasRecord{}, providerError(AliasBinderComponent, "upsert alias record", err)
		}
		lsession.Info("alias-bound", lager.Data{
			"name":   name,
			"target": target.DNSName,
		})
	}

	return models.AliasRecord{
		Name:   names[0],
		Zone:   zone,
		Target: dist.DistributionRef,
	}, nil
}

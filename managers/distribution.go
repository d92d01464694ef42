package managers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"code.cloudfoundry.org/lager/v3"
	sitepipeline "github.com/18f/site-pipeline"
	"github.com/18f/site-pipeline/interfaces"
	"github.com/18f/site-pipeline/models"
	"github.com/pkg/errors"
)

const defaultMinimumProtocolVersion = "TLSv1.2_2021"

type DistributionProvisionerSettings struct {
	CDN interfaces.CDNProvider

	// Viewer TLS policy, e.g. TLSv1.2_2021.
	MinimumProtocolVersion string
	PriceClass             string

	DeployTimeout time.Duration
	Interval      time.Duration
	Logger        lager.Logger
}

// DistributionProvisioner creates or updates the site's distribution.
type DistributionProvisioner struct {
	cdn                    interfaces.CDNProvider
	deployTimeout          time.Duration
	interval               time.Duration
	logger                 lager.Logger
	minimumProtocolVersion string
	priceClass             string
}

func NewDistributionProvisioner(settings *DistributionProvisionerSettings) (*DistributionProvisioner, error) {
	if settings.CDN == nil {
		return nil, errors.New("cdn provider cannot be nil")
	}

	d := &DistributionProvisioner{
		cdn:                    settings.CDN,
		deployTimeout:          settings.DeployTimeout,
		interval:               settings.Interval,
		logger:                 settings.Logger.Session("distribution-provisioner"),
		minimumProtocolVersion: settings.MinimumProtocolVersion,
		priceClass:             settings.PriceClass,
	}
	if d.minimumProtocolVersion == "" {
		d.minimumProtocolVersion = defaultMinimumProtocolVersion
	}
	if d.deployTimeout == 0 {
		d.deployTimeout = sitepipeline.DistributionDeployTimeout
	}
	if d.interval == 0 {
		d.interval = sitepipeline.StatusCheckInterval
	}
	return d, nil
}

// DefaultErrorFallback sends any 404 to the entry document with a 200 so client side routes load the app. The
// fallback itself is never cached.
func DefaultErrorFallback() models.ErrorFallback {
	return models.ErrorFallback{
		MatchStatus:   http.StatusNotFound,
		CacheTtl:      0,
		RewriteTo:     sitepipeline.EntryDocumentPath,
		RespondStatus: http.StatusOK,
	}
}

// Provision applies the distribution config. The returned distribution may still be deploying, see
// AwaitDeployed.
func (d *DistributionProvisioner) Provision(ctx context.Context, cert models.Certificate, rules []models.OriginRule, fallback models.ErrorFallback) (models.Distribution, error) {
	lsession := d.logger.Session("provision", lager.Data{
		"domain":         cert.Domain,
		"certificate-id": cert.Id,
	})

	if cert.Id == "" || cert.Status != models.CertificateValidated {
		status := string(cert.Status)
		if status == "" {
			status = "unknown"
		}
		nerr := &CertificateNotReadyError{CertificateId: cert.Id, Status: status}
		lsession.Error("certificate-not-ready", nerr)
		return models.Distribution{}, nerr
	}
	if cert.Region != sitepipeline.EdgeCertificateRegion {
		cerr := &DistributionConfigError{Reason: "certificate is in " + cert.Region + ", the CDN only reads certificates from " + sitepipeline.EdgeCertificateRegion}
		lsession.Error("certificate-region", cerr)
		return models.Distribution{}, cerr
	}
	if err := ValidateOriginRules(rules); err != nil {
		lsession.Error("validate-origin-rules", err)
		return models.Distribution{}, err
	}
	if err := validateFallback(fallback); err != nil {
		lsession.Error("validate-fallback", err)
		return models.Distribution{}, err
	}

	// value semantics, the distribution owns its own copy of the rules.
	owned := make([]models.OriginRule, len(rules))
	for idx := range rules {
		owned[idx] = copyRule(rules[idx])
	}
	aliases := []string{strings.ToLower(cert.Domain)}

	ref, err := d.cdn.ApplyDistribution(ctx, models.DistributionConfig{
		Certificate:            cert,
		Origins:                owned,
		Fallback:               fallback,
		DomainAliases:          aliases,
		RootObject:             sitepipeline.EntryDocument,
		MinimumProtocolVersion: d.minimumProtocolVersion,
		PriceClass:             d.priceClass,
	})
	if err != nil {
		lsession.Error("apply-distribution", err)
		return models.Distribution{}, providerError(DistributionProvisionerComponent, "apply distribution", err)
	}

	lsession.Info("distribution-applied", lager.Data{
		"distribution-id": ref.Id,
		"domain-name":     ref.DomainName,
	})

	return models.Distribution{
		DistributionRef: ref,
		Certificate:     cert,
		Origins:         owned,
		Fallback:        fallback,
		DomainAliases:   aliases,
		Status:          models.DistributionDeploying,
	}, nil
}

// AwaitDeployed blocks until the distribution has finished deploying.
func (d *DistributionProvisioner) AwaitDeployed(ctx context.Context, dist models.Distribution) (models.Distribution, error) {
	lsession := d.logger.Session("await-deployed", lager.Data{
		"distribution-id": dist.Id,
	})

	status := dist.Status
	err := waitFor(ctx, lsession, d.interval, d.deployTimeout, func() (bool, error) {
		var err error
		status, err = d.cdn.DistributionStatus(ctx, dist.Id)
		if err != nil {
			return false, providerError(DistributionProvisionerComponent, "distribution status", err)
		}
		return status == models.DistributionDeployed, nil
	})

	switch {
	case err == nil:
	case errors.Is(err, errNotYet):
		nerr := &DistributionNotReadyError{DistributionId: dist.Id, Status: string(status), Owner: DistributionProvisionerComponent}
		lsession.Error("deploy-timeout", nerr)
		return dist, nerr
	default:
		var perr PipelineError
		if !errors.As(err, &perr) {
			err = providerError(DistributionProvisionerComponent, "await deployed", err)
		}
		lsession.Error("await-deployed", err)
		return dist, err
	}

	dist.Status = models.DistributionDeployed
	lsession.Info("deployed")
	return dist, nil
}

func validateFallback(f models.ErrorFallback) error {
	switch {
	case f.MatchStatus < 400 || f.MatchStatus > 599:
		return &DistributionConfigError{Reason: "fallback must match an error status"}
	case !strings.HasPrefix(f.RewriteTo, "/"):
		return &DistributionConfigError{Reason: "fallback page must be an absolute path"}
	case f.RespondStatus < 200 || f.RespondStatus > 599:
		return &DistributionConfigError{Reason: "fallback response status is not a valid status"}
	case f.CacheTtl < 0:
		return &DistributionConfigError{Reason: "fallback cache ttl cannot be negative"}
	}
	return nil
}

func copyRule(r models.OriginRule) models.OriginRule {
	out := r
	out.AllowedMethods = append([]string(nil), r.AllowedMethods...)
	out.ForwardedHeaders = append([]string(nil), r.ForwardedHeaders...)
	if r.CacheTtl != nil {
		ttl := *r.CacheTtl
		out.CacheTtl = &ttl
	}
	return out
}

package managers

import (
	"context"
	"strings"
	"time"

	"code.cloudfoundry.org/lager/v3"
	sitepipeline "github.com/18f/site-pipeline"
	"github.com/18f/site-pipeline/interfaces"
	"github.com/18f/site-pipeline/models"
	"github.com/go-acme/lego/v4/challenge/dns01"
	"github.com/pkg/errors"
)

type CertificateProvisionerSettings struct {
	Authority interfaces.CertificateAuthority
	DNS       interfaces.DNSProvider

	// Optional, without it only the authority's status is watched.
	Propagation *PropagationChecker

	Timeout  time.Duration
	Interval time.Duration
	Logger   lager.Logger
}

// CertificateProvisioner gets a DNS validated certificate for the apex and wildcard names, always in the
// region the CDN reads certificates from.
type CertificateProvisioner struct {
	authority   interfaces.CertificateAuthority
	dns         interfaces.DNSProvider
	interval    time.Duration
	logger      lager.Logger
	propagation *PropagationChecker
	timeout     time.Duration
}

func NewCertificateProvisioner(settings *CertificateProvisionerSettings) (*CertificateProvisioner, error) {
	if settings.Authority == nil {
		return nil, errors.New("certificate authority cannot be nil")
	}
	if settings.DNS == nil {
		return nil, errors.New("dns provider cannot be nil")
	}

	c := &CertificateProvisioner{
		authority:   settings.Authority,
		dns:         settings.DNS,
		interval:    settings.Interval,
		logger:      settings.Logger.Session("certificate-provisioner"),
		propagation: settings.Propagation,
		timeout:     settings.Timeout,
	}
	if c.timeout == 0 {
		c.timeout = sitepipeline.CertificateValidationTimeout
	}
	if c.interval == 0 {
		c.interval = sitepipeline.StatusCheckInterval
	}
	return c, nil
}

// AlternativeNames for a domain, the apex first.
func AlternativeNames(domain string) []string {
	return []string{domain, "*." + domain}
}

// Provision returns a validated certificate. An existing certificate for the same names is reused, so running
// it again after a timeout picks up where the last run stopped.
func (c *CertificateProvisioner) Provision(ctx context.Context, spec models.DomainSpec, zone models.ZoneRef) (models.Certificate, error) {
	domain := strings.ToLower(dns01.UnFqdn(strings.TrimSpace(spec.ApexDomain)))
	lsession := c.logger.Session("provision", lager.Data{
		"domain":  domain,
		"zone-id": zone.Id,
	})

	if err := models.ValidateApexDomain(domain); err != nil {
		rerr := &CertificateRequestError{Domain: spec.ApexDomain, Reason: "malformed domain", Err: err}
		lsession.Error("validate-domain", rerr)
		return models.Certificate{}, rerr
	}
	if zone.Name != "" && !strings.EqualFold(zone.Name, domain) {
		rerr := &CertificateRequestError{Domain: domain, Reason: "validation zone " + zone.Name + " does not match the domain"}
		lsession.Error("validate-zone", rerr)
		return models.Certificate{}, rerr
	}

	cert := models.Certificate{
		Domain:           domain,
		AlternativeNames: AlternativeNames(domain),
		ValidationZone:   zone,
		Region:           sitepipeline.EdgeCertificateRegion,
		Status:           models.CertificatePending,
	}

	handle, found, err := c.authority.FindCertificate(ctx, cert.Domain, cert.AlternativeNames, cert.Region)
	if err != nil {
		lsession.Error("find-certificate", err)
		return models.Certificate{}, providerError(CertificateProvisionerComponent, "find certificate", err)
	}

	if found {
		lsession.Info("reusing-certificate", lager.Data{"certificate-id": handle})
	} else {
		handle, err = c.authority.RequestCertificate(ctx, models.CertificateRequest{
			Domain:           cert.Domain,
			AlternativeNames: cert.AlternativeNames,
			ValidationZone:   zone,
			Region:           cert.Region,
		})
		if err != nil {
			if errors.Is(err, interfaces.ErrInvalidCertificateRequest) {
				rerr := &CertificateRequestError{Domain: domain, Reason: "rejected by the authority", Err: err}
				lsession.Error("request-certificate", rerr)
				return models.Certificate{}, rerr
			}
			lsession.Error("request-certificate", err)
			return models.Certificate{}, providerError(CertificateProvisionerComponent, "request certificate", err)
		}
		lsession.Info("requested-certificate", lager.Data{"certificate-id": handle})
	}
	cert.Id = handle

	written := make(map[string]bool)
	propagated := c.propagation == nil
	started := time.Now()

	err = waitFor(ctx, lsession, c.interval, c.timeout, func() (bool, error) {
		status, err := c.authority.CertificateStatus(ctx, handle)
		if err != nil {
			return false, providerError(CertificateProvisionerComponent, "certificate status", err)
		}
		switch status {
		case models.CertificateValidated:
			return true, nil
		case models.CertificateFailed:
			return false, &CertificateRequestError{Domain: domain, Reason: "the authority could not validate " + handle}
		}

		records, err := c.authority.ValidationRecords(ctx, handle)
		if err != nil {
			return false, providerError(CertificateProvisionerComponent, "validation records", err)
		}

		for idx := range records {
			key := strings.ToLower(records[idx].Name)
			if written[key] {
				continue
			}
			if err := c.dns.UpsertValidationRecord(ctx, zone, records[idx]); err != nil {
				return false, providerError(CertificateProvisionerComponent, "write validation record", err)
			}
			written[key] = true
			lsession.Info("wrote-validation-record", lager.Data{
				"name":  records[idx].Name,
				"value": records[idx].Value,
			})
		}

		if len(records) > 0 && c.propagation != nil {
			propagated = c.propagation.Propagated(ctx, records)
		}
		return false, nil
	})

	switch {
	case err == nil:
	case errors.Is(err, errNotYet):
		terr := &CertificateValidationTimeoutError{
			CertificateId: handle,
			Waited:        time.Since(started).Round(time.Second),
			Propagated:    propagated,
		}
		lsession.Error("validation-timeout", terr)
		return cert, terr
	default:
		var perr PipelineError
		if !errors.As(err, &perr) {
			err = providerError(CertificateProvisionerComponent, "await validation", err)
		}
		lsession.Error("await-validation", err)
		return cert, err
	}

	cert.Status = models.CertificateValidated
	lsession.Info("certificate-validated", lager.Data{"certificate-id": handle})
	return cert, nil
}

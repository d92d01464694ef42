package managers

import (
	"context"
	"strings"

	"code.cloudfoundry.org/lager/v3"
	sitepipeline "github.com/18f/site-pipeline"
	"github.com/18f/site-pipeline/models"
	"github.com/go-acme/lego/v4/challenge/dns01"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

type PipelineSettings struct {
	Zones         *ZoneResolver
	Certificates  *CertificateProvisioner
	Distributions *DistributionProvisioner
	Aliases       *AliasBinder
	Publisher     *ContentPublisher
	Reporter      *Reporter
	State         *StateManager

	// Bucket the site is published to, and the hostname the CDN fetches it from.
	Bucket     string
	SiteOrigin models.StaticSiteOrigin

	ArtifactDir string
	Fallback    *models.ErrorFallback

	Logger lager.Logger
}

// Pipeline runs the deploy stages in dependency order.
type Pipeline struct {
	aliases       *AliasBinder
	artifactDir   string
	bucket        string
	certificates  *CertificateProvisioner
	distributions *DistributionProvisioner
	fallback      models.ErrorFallback
	logger        lager.Logger
	publisher     *ContentPublisher
	reporter      *Reporter
	siteOrigin    models.StaticSiteOrigin
	state         *StateManager
	zones         *ZoneResolver
}

// Result of a run. Fields are filled in as far as the run got.
type Result struct {
	RunId         string
	Zone          models.ZoneRef
	Certificate   models.Certificate
	Origins       []models.OriginRule
	Distribution  models.Distribution
	Alias         models.AliasRecord
	PublishReport models.PublishReport
	Outputs       models.Outputs

	// Set when everything deployed but the cache invalidation was rejected. The paths are kept and retried on
	// the next run.
	InvalidationErr *InvalidationError
}

func NewPipeline(settings *PipelineSettings) (*Pipeline, error) {
	if settings.Zones == nil || settings.Certificates == nil || settings.Distributions == nil ||
		settings.Aliases == nil || settings.Publisher == nil {
		return nil, errors.New("pipeline needs every component")
	}
	if settings.Bucket == "" {
		return nil, errors.New("bucket cannot be empty")
	}

	p := &Pipeline{
		aliases:       settings.Aliases,
		artifactDir:   settings.ArtifactDir,
		bucket:        settings.Bucket,
		certificates:  settings.Certificates,
		distributions: settings.Distributions,
		fallback:      DefaultErrorFallback(),
		logger:        settings.Logger.Session("pipeline"),
		publisher:     settings.Publisher,
		reporter:      settings.Reporter,
		siteOrigin:    settings.SiteOrigin,
		state:         settings.State,
		zones:         settings.Zones,
	}
	if settings.Fallback != nil {
		p.fallback = *settings.Fallback
	}
	if p.reporter == nil {
		p.reporter = NewReporter(&ReporterSettings{Logger: settings.Logger, State: settings.State})
	}
	return p, nil
}

// Run deploys the site. Zone, certificate, origins and distribution run in order; once the distribution exists
// the alias branch and the publish branch run side by side and neither cancels the other. A rejected
// invalidation doesn't fail the run, it comes back on Result.InvalidationErr.
func (p *Pipeline) Run(ctx context.Context, spec models.DomainSpec) (*Result, error) {
	spec.ApexDomain = strings.ToLower(dns01.UnFqdn(strings.TrimSpace(spec.ApexDomain)))
	lsession := p.logger.Session("run", lager.Data{
		"domain":  spec.ApexDomain,
		"backend": spec.BackendHostname,
	})

	result := &Result{}

	if err := models.ValidateApexDomain(spec.ApexDomain); err != nil {
		rerr := &CertificateRequestError{Domain: spec.ApexDomain, Reason: "malformed domain", Err: err}
		lsession.Error("validate-domain", rerr)
		return result, rerr
	}

	runId, err := p.startRun(spec.ApexDomain)
	if err != nil {
		lsession.Error("start-run", err)
		return result, err
	}
	result.RunId = runId
	lsession = lsession.WithData(lager.Data{"run-id": runId})
	lsession.Info("starting")

	err = p.run(ctx, lsession, spec, result)
	if ferr := p.reporter.Flush(runId); ferr != nil {
		lsession.Error("flush-outputs", ferr)
	}
	result.Outputs = p.reporter.Outputs()

	status := RunSucceeded
	switch {
	case err != nil:
		status = RunFailed
	case result.InvalidationErr != nil:
		status = RunPartial
	}
	if p.state != nil {
		var cause error = err
		if cause == nil && result.InvalidationErr != nil {
			cause = result.InvalidationErr
		}
		if serr := p.state.FinishRun(runId, status, cause); serr != nil {
			lsession.Error("finish-run", serr)
		}
	}

	if err != nil {
		lsession.Error("failed", err)
		return result, err
	}
	lsession.Info("finished", lager.Data{"status": status})
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, lsession lager.Logger, spec models.DomainSpec, result *Result) error {
	if err := p.stage(result.RunId, sitepipeline.ZoneStage, func() error {
		var err error
		result.Zone, err = p.zones.Resolve(ctx, spec.ApexDomain)
		return err
	}); err != nil {
		return err
	}

	if err := p.stage(result.RunId, sitepipeline.CertificateStage, func() error {
		var err error
		result.Certificate, err = p.certificates.Provision(ctx, spec, result.Zone)
		if err == nil {
			p.report(lsession, OutputCertificate, result.Certificate.Id)
		}
		return err
	}); err != nil {
		return err
	}

	if err := p.stage(result.RunId, sitepipeline.OriginsStage, func() error {
		var err error
		result.Origins, err = BuildOriginRules(spec.BackendHostname, p.siteOrigin)
		return err
	}); err != nil {
		return err
	}

	if err := p.stage(result.RunId, sitepipeline.DistributionStage, func() error {
		var err error
		result.Distribution, err = p.distributions.Provision(ctx, result.Certificate, result.Origins, p.fallback)
		if err == nil {
			p.report(lsession, OutputDistributionId, result.Distribution.Id)
		}
		return err
	}); err != nil {
		return err
	}

	pending := p.pendingInvalidation(lsession, spec.ApexDomain)

	// no derived context: a failing branch must not cancel the other one halfway through.
	var g errgroup.Group
	var aliasErr, publishErr error

	g.Go(func() error {
		aliasErr = p.stage(result.RunId, sitepipeline.AliasStage, func() error {
			dist, err := p.distributions.AwaitDeployed(ctx, result.Distribution)
			if err != nil {
				return err
			}
			result.Distribution = dist

			result.Alias, err = p.aliases.Bind(ctx, result.Zone, dist)
			if err == nil {
				p.report(lsession, OutputSite, "https://"+spec.ApexDomain)
			}
			return err
		})
		return nil
	})

	ref := result.Distribution.DistributionRef
	g.Go(func() error {
		publishErr = p.stage(result.RunId, sitepipeline.PublishStage, func() error {
			report, err := p.publisher.Publish(ctx, models.PublishJob{
				SourceArtifactDir: p.artifactDir,
				DestinationBucket: p.bucket,
				InvalidationPaths: pending,
				ScopeDistribution: ref,
			})
			result.PublishReport = report

			var ierr *InvalidationError
			var perr *PublishError
			switch {
			case err == nil:
				p.report(lsession, OutputBucket, p.bucket)
				if report.InvalidationId != "" {
					p.clearPendingInvalidation(lsession, spec.ApexDomain)
				}
				return nil
			case errors.As(err, &ierr):
				p.report(lsession, OutputBucket, p.bucket)
				result.InvalidationErr = ierr
				p.savePendingInvalidation(lsession, result.RunId, ierr.Paths)
				return nil
			case errors.As(err, &perr) && len(perr.Pending) > 0:
				p.savePendingInvalidation(lsession, result.RunId, perr.Pending)
			}
			return err
		})
		return nil
	})

	_ = g.Wait()
	return multierr.Combine(aliasErr, publishErr)
}

// Invalidate re-sends the invalidation still pending for a domain, or paths when given.
func (p *Pipeline) Invalidate(ctx context.Context, domain string, paths []string) (string, error) {
	domain = strings.ToLower(dns01.UnFqdn(strings.TrimSpace(domain)))
	lsession := p.logger.Session("invalidate", lager.Data{"domain": domain})

	if p.state == nil {
		return "", errors.New("invalidate needs a state manager")
	}

	deployment, err := p.state.LatestDeployment(domain)
	if err != nil {
		lsession.Error("latest-deployment", err)
		return "", errors.Wrapf(err, "no deployment found for %s", domain)
	}

	if len(paths) == 0 {
		if paths, err = p.state.PendingInvalidation(domain); err != nil {
			lsession.Error("pending-invalidation", err)
			return "", err
		}
	}

	id, err := p.publisher.Invalidate(ctx, models.DistributionRef{Id: deployment.DistributionId}, paths)
	if err != nil {
		return "", err
	}
	p.clearPendingInvalidation(lsession, domain)
	return id, nil
}

// stage runs fn between Begin and Complete or Fail. Without a state manager fn just runs.
func (p *Pipeline) stage(runId string, stage sitepipeline.Stage, fn func() error) error {
	if p.state == nil {
		return fn()
	}
	if err := p.state.Begin(runId, stage); err != nil {
		return err
	}

	if err := fn(); err != nil {
		if serr := p.state.Fail(runId, stage, err); serr != nil {
			p.logger.Error("record-stage-failure", serr, lager.Data{"stage": stage})
		}
		return err
	}
	return p.state.Complete(runId, stage)
}

func (p *Pipeline) startRun(domain string) (string, error) {
	if p.state == nil {
		return "", nil
	}
	return p.state.StartRun(domain)
}

func (p *Pipeline) report(lsession lager.Logger, key, value string) {
	if err := p.reporter.Report(key, value); err != nil {
		lsession.Error("report", err)
	}
}

func (p *Pipeline) pendingInvalidation(lsession lager.Logger, domain string) []string {
	if p.state == nil {
		return nil
	}
	paths, err := p.state.PendingInvalidation(domain)
	if err != nil {
		lsession.Error("pending-invalidation", err)
		return nil
	}
	if len(paths) > 0 {
		lsession.Info("found-pending-invalidation", lager.Data{"paths": paths})
	}
	return paths
}

func (p *Pipeline) savePendingInvalidation(lsession lager.Logger, runId string, paths []string) {
	if p.state == nil {
		return
	}
	if err := p.state.SetPendingInvalidation(runId, paths); err != nil {
		lsession.Error("save-pending-invalidation", err)
	}
}

func (p *Pipeline) clearPendingInvalidation(lsession lager.Logger, domain string) {
	if p.state == nil {
		return
	}
	if err := p.state.ClearPendingInvalidation(domain); err != nil {
		lsession.Error("clear-pending-invalidation", err)
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"code.cloudfoundry.org/lager/v3"
	sitepipeline "github.com/18f/site-pipeline"
	"github.com/18f/site-pipeline/healthchecks"
	"github.com/18f/site-pipeline/managers"
	"github.com/18f/site-pipeline/types"
	"github.com/pkg/errors"
	"github.com/robfig/cron"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func main() {
	if err := newRootCmd(openAWS).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(open opener) *cobra.Command {
	var a *app

	rootCmd := &cobra.Command{
		Use:           sitepipeline.PipelineName,
		Short:         "Deploy a single page app behind a CDN",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// before anything else, we need to grab our config so we know what to do.
			settings, err := types.NewSettings()
			if err != nil {
				return errors.Wrap(err, "cannot read environment variables for configuration")
			}
			logger := newLogger(settings.LogLevel)

			db, svc, err := open(settings, logger)
			if err != nil {
				return err
			}

			a, err = newApp(settings, logger, db, svc)
			if err != nil {
				db.Close()
				return err
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a != nil && a.db != nil {
				return a.db.Close()
			}
			return nil
		},
	}

	rootCmd.AddCommand(
		newDeployCmd(&a),
		newInvalidateCmd(&a),
		newStatusCmd(&a),
		newReconcileCmd(&a),
		newPreflightCmd(&a),
	)
	return rootCmd
}

func newDeployCmd(a **app) *cobra.Command {
	return &cobra.Command{
		Use:   "deploy",
		Short: "Run the whole pipeline once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return (*a).deploy(ctx, cmd)
		},
	}
}

func newInvalidateCmd(a **app) *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate [path...]",
		Short: "Re-send the pending invalidation for the last deployment, or the given paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := (*a).pipeline.Invalidate(cmd.Context(), (*a).settings.ApexDomain, args)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "invalidation %s created\n", id)
			return nil
		},
	}
}

type stageStatus struct {
	Stage     string `yaml:"stage"`
	Status    string `yaml:"status"`
	Component string `yaml:"component,omitempty"`
	Error     string `yaml:"error,omitempty"`
}

type runStatus struct {
	RunId               string        `yaml:"run_id"`
	Domain              string        `yaml:"domain"`
	Status              string        `yaml:"status"`
	Error               string        `yaml:"error,omitempty"`
	Site                string        `yaml:"site,omitempty"`
	Certificate         string        `yaml:"certificate,omitempty"`
	Bucket              string        `yaml:"bucket,omitempty"`
	DistributionId      string        `yaml:"distribution_id,omitempty"`
	PendingInvalidation string        `yaml:"pending_invalidation,omitempty"`
	Stages              []stageStatus `yaml:"stages"`
}

func newStatusCmd(a **app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the latest run and its stages",
		RunE: func(cmd *cobra.Command, args []string) error {
			run, stages, err := (*a).state.LatestRun((*a).settings.ApexDomain)
			if err != nil {
				return errors.Wrapf(err, "no runs found for %s", (*a).settings.ApexDomain)
			}

			out := runStatus{
				RunId:               run.RunId,
				Domain:              run.Domain,
				Status:              run.Status,
				Error:               run.ErrorMessage,
				Site:                run.Site,
				Certificate:         run.CertificateArn,
				Bucket:              run.Bucket,
				DistributionId:      run.DistributionId,
				PendingInvalidation: run.PendingInvalidation,
			}
			for _, s := range stages {
				out.Stages = append(out.Stages, stageStatus{
					Stage:     string(s.Stage),
					Status:    string(s.Status),
					Component: s.Component,
					Error:     s.ErrorMessage,
				})
			}
			return yaml.NewEncoder(cmd.OutOrStdout()).Encode(out)
		},
	}
}

func newReconcileCmd(a **app) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Deploy on a schedule until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return (*a).reconcile(ctx, cmd)
		},
	}
}

func newPreflightCmd(a **app) *cobra.Command {
	return &cobra.Command{
		Use:   "preflight",
		Short: "Check every dependency is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			return (*a).preflight(ctx)
		},
	}
}

func (a *app) deploy(ctx context.Context, cmd *cobra.Command) error {
	if err := a.settings.Validate(); err != nil {
		return errors.Wrap(err, "invalid settings")
	}

	result, err := a.pipeline.Run(ctx, a.settings.Spec())
	if err != nil {
		a.logger.Error("deploy-failed", err, lager.Data{
			"component": managers.ComponentOf(err),
			"retryable": managers.IsRetryable(err),
		})
		return err
	}

	if result.InvalidationErr != nil {
		a.logger.Info("invalidation-pending", lager.Data{
			"paths": result.InvalidationErr.Paths,
			"hint":  "run invalidate to retry",
		})
	}
	return yaml.NewEncoder(cmd.OutOrStdout()).Encode(result.Outputs)
}

func (a *app) reconcile(ctx context.Context, cmd *cobra.Command) error {
	lsession := a.logger.Session("reconcile", lager.Data{"schedule": a.settings.Schedule})

	var running sync.Mutex
	c := cron.New()
	if err := c.AddFunc(a.settings.Schedule, func() {
		// skip a tick while the previous deploy is still going.
		if !running.TryLock() {
			lsession.Info("deploy-still-running")
			return
		}
		defer running.Unlock()

		if err := a.deploy(ctx, cmd); err != nil {
			lsession.Error("deploy", err)
		}
	}); err != nil {
		return errors.Wrapf(err, "invalid schedule %q", a.settings.Schedule)
	}

	c.Start()
	lsession.Info("started")

	// block until we shut down.
	<-ctx.Done()
	c.Stop()

	running.Lock()
	defer running.Unlock()
	lsession.Info("goodbye")
	return nil
}

func (a *app) preflight(ctx context.Context) error {
	return healthchecks.Run(ctx, a.logger, map[string]healthchecks.Check{
		"cloudfront": healthchecks.CloudFront(a.services.CloudFront),
		"route53":    healthchecks.Route53(a.services.Route53, a.settings.ApexDomain),
		"bucket":     healthchecks.Bucket(a.services.S3, a.settings.BucketName()),
		"database":   healthchecks.Database(a.db),
	})
}

package main

import (
	"os"
	"strings"

	"code.cloudfoundry.org/lager/v3"
	sitepipeline "github.com/18f/site-pipeline"
	"github.com/18f/site-pipeline/managers"
	"github.com/18f/site-pipeline/providers"
	"github.com/18f/site-pipeline/types"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/acm"
	"github.com/aws/aws-sdk-go/service/acm/acmiface"
	"github.com/aws/aws-sdk-go/service/cloudfront"
	"github.com/aws/aws-sdk-go/service/cloudfront/cloudfrontiface"
	"github.com/aws/aws-sdk-go/service/route53"
	"github.com/aws/aws-sdk-go/service/route53/route53iface"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/postgres"
	_ "github.com/jinzhu/gorm/dialects/sqlite"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

// services are the AWS clients everything else is built on.
type services struct {
	ACM        acmiface.ACMAPI
	CloudFront cloudfrontiface.CloudFrontAPI
	Route53    route53iface.Route53API
	S3         s3iface.S3API
}

// opener connects to the database and AWS.
type opener func(settings types.Settings, logger lager.Logger) (*gorm.DB, services, error)

func openAWS(settings types.Settings, logger lager.Logger) (*gorm.DB, services, error) {
	db, err := gorm.Open(settings.DatabaseDialect, settings.DatabaseUrl)
	if err != nil {
		logger.Error("db-open", err, lager.Data{"dialect": settings.DatabaseDialect})
		return nil, services{}, errors.Wrap(err, "cannot open the database")
	}
	if settings.DatabaseDialect == "sqlite3" {
		// sqlite allows one writer, and the alias and publish stages record progress at the same time.
		db.DB().SetMaxOpenConns(1)
	}

	sess, err := session.NewSession(
		aws.NewConfig().WithCredentials(
			credentials.NewEnvCredentials()).WithRegion(
			settings.AwsDefaultRegion))
	if err != nil {
		db.Close()
		logger.Error("aws-session", err)
		return nil, services{}, errors.Wrap(err, "cannot create an aws session")
	}

	return db, services{
		// the CDN only reads certificates from one region, whatever the rest of the stack uses.
		ACM:        acm.New(sess, aws.NewConfig().WithRegion(sitepipeline.EdgeCertificateRegion)),
		CloudFront: cloudfront.New(sess),
		Route53:    route53.New(sess),
		S3:         s3.New(sess),
	}, nil
}

func newLogger(level string) lager.Logger {
	minLevel, err := lager.LogLevelFromString(strings.ToLower(level))
	if err != nil {
		minLevel = lager.INFO
	}

	// set up our logging writers.
	stdoutSink := lager.NewPrettySink(os.Stdout, minLevel)
	errorSink := lager.NewPrettySink(os.Stderr, lager.ERROR)
	fatalSink := lager.NewPrettySink(os.Stderr, lager.FATAL)

	logger := lager.NewLogger(sitepipeline.PipelineName)
	logger.RegisterSink(stdoutSink)
	logger.RegisterSink(errorSink)
	logger.RegisterSink(fatalSink)
	return logger
}

// app holds everything a command needs.
type app struct {
	db       *gorm.DB
	logger   lager.Logger
	pipeline *managers.Pipeline
	services services
	settings types.Settings
	state    *managers.StateManager
}

func newApp(settings types.Settings, logger lager.Logger, db *gorm.DB, svc services) (*app, error) {
	state, err := managers.NewStateManager(&managers.StateManagerSettings{
		Db:         db,
		Logger:     logger,
		LogQueries: strings.EqualFold(settings.LogLevel, "debug"),
	})
	if err != nil {
		return nil, errors.Wrap(err, "cannot prepare the state database")
	}

	route53Provider := providers.NewRoute53(svc.Route53)
	cloudFrontProvider := providers.NewCloudFront(svc.CloudFront)

	zones, err := managers.NewZoneResolver(&managers.ZoneResolverSettings{
		Lookup: route53Provider,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	certificates, err := managers.NewCertificateProvisioner(&managers.CertificateProvisionerSettings{
		Authority: providers.NewACM(svc.ACM, sitepipeline.EdgeCertificateRegion),
		DNS:       route53Provider,
		Propagation: managers.NewPropagationChecker(&managers.PropagationCheckerSettings{
			Resolvers: settings.Resolvers,
			Logger:    logger,
		}),
		Timeout:  settings.CertificateValidationTimeout,
		Interval: settings.PollInterval,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	distributions, err := managers.NewDistributionProvisioner(&managers.DistributionProvisionerSettings{
		CDN:                    cloudFrontProvider,
		MinimumProtocolVersion: settings.MinimumProtocolVersion,
		PriceClass:             settings.PriceClass,
		DeployTimeout:          settings.DistributionDeployTimeout,
		Interval:               settings.PollInterval,
		Logger:                 logger,
	})
	if err != nil {
		return nil, err
	}

	aliases, err := managers.NewAliasBinder(&managers.AliasBinderSettings{
		CDN:    cloudFrontProvider,
		DNS:    route53Provider,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	publisher, err := managers.NewContentPublisher(&managers.ContentPublisherSettings{
		Store:                     providers.NewS3(svc.S3),
		CDN:                       cloudFrontProvider,
		Concurrency:               settings.UploadConcurrency,
		RateLimit:                 settings.UploadRateLimit,
		InvalidationMode:          settings.InvalidationMode,
		EntryDocumentCacheControl: settings.EntryDocumentCacheControl,
		Logger:                    logger,
	})
	if err != nil {
		return nil, err
	}

	pipeline, err := managers.NewPipeline(&managers.PipelineSettings{
		Zones:         zones,
		Certificates:  certificates,
		Distributions: distributions,
		Aliases:       aliases,
		Publisher:     publisher,
		Reporter: managers.NewReporter(&managers.ReporterSettings{
			OutputsFile: settings.OutputsFile,
			State:       state,
			Logger:      logger,
		}),
		State:       state,
		Bucket:      settings.BucketName(),
		SiteOrigin:  settings.SiteOrigin(providers.WebsiteEndpoint),
		ArtifactDir: settings.ArtifactDir,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	return &app{
		db:       db,
		logger:   logger,
		pipeline: pipeline,
		services: svc,
		settings: settings,
		state:    state,
	}, nil
}

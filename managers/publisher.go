package managers

import (
	"context"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"code.cloudfoundry.org/lager/v3"
	sitepipeline "github.com/18f/site-pipeline"
	"github.com/18f/site-pipeline/interfaces"
	"github.com/18f/site-pipeline/models"
	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/ratelimit"
	"golang.org/x/sync/errgroup"
)

// Invalidation modes.
const (
	InvalidateChanged = "changed"
	InvalidateAll     = "all"
)

var errNoArtifacts = errors.New("artifact directory has no files")

type ContentPublisherSettings struct {
	Store interfaces.ObjectStore
	CDN   interfaces.CDNProvider

	// Parallel uploads, and uploads per second.
	Concurrency int
	RateLimit   int

	InvalidationMode          string
	EntryDocumentCacheControl string

	Logger lager.Logger
}

// ContentPublisher uploads a built site and invalidates what changed on the distribution that serves it.
type ContentPublisher struct {
	cdn                       interfaces.CDNProvider
	concurrency               int
	entryDocumentCacheControl string
	invalidationMode          string
	limiter                   ratelimit.Limiter
	logger                    lager.Logger
	store                     interfaces.ObjectStore
}

func NewContentPublisher(settings *ContentPublisherSettings) (*ContentPublisher, error) {
	if settings.Store == nil {
		return nil, errors.New("object store cannot be nil")
	}
	if settings.CDN == nil {
		return nil, errors.New("cdn provider cannot be nil")
	}

	p := &ContentPublisher{
		cdn:                       settings.CDN,
		concurrency:               settings.Concurrency,
		entryDocumentCacheControl: settings.EntryDocumentCacheControl,
		invalidationMode:          settings.InvalidationMode,
		logger:                    settings.Logger.Session("content-publisher"),
		store:                     settings.Store,
	}

	if p.concurrency <= 0 {
		p.concurrency = sitepipeline.UploadConcurrency
	}
	if settings.RateLimit > 0 {
		p.limiter = ratelimit.New(settings.RateLimit)
	} else {
		p.limiter = ratelimit.NewUnlimited()
	}

	switch p.invalidationMode {
	case "":
		p.invalidationMode = InvalidateChanged
	case InvalidateChanged, InvalidateAll:
	default:
		return nil, errors.Errorf("unknown invalidation mode %q", p.invalidationMode)
	}

	return p, nil
}

type artifact struct {
	key  string
	path string
}

// Publish uploads every file under the artifact directory. Upload failures come back as a *PublishError with
// nothing rolled back and no invalidation sent. The error carries the paths the landed changes still need
// invalidated, since the next run sees them as unchanged. A rejected invalidation comes back as an
// *InvalidationError next to a complete report, the upload stands.
func (p *ContentPublisher) Publish(ctx context.Context, job models.PublishJob) (models.PublishReport, error) {
	lsession := p.logger.Session("publish", lager.Data{
		"bucket":          job.DestinationBucket,
		"distribution-id": job.ScopeDistribution.Id,
		"source":          job.SourceArtifactDir,
	})

	var report models.PublishReport

	artifacts, err := collectArtifacts(job.SourceArtifactDir)
	if err != nil {
		perr := &PublishError{Bucket: job.DestinationBucket, Failed: map[string]error{job.SourceArtifactDir: err}}
		lsession.Error("collect-artifacts", perr)
		return report, perr
	}

	var (
		mu            sync.Mutex
		diffAvailable = true
		failed        = make(map[string]error)
	)

	g := new(errgroup.Group)
	g.SetLimit(p.concurrency)
	for _, a := range artifacts {
		a := a
		g.Go(func() error {
			result, err := p.put(ctx, job.DestinationBucket, a)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				lsession.Error("put-object", err, lager.Data{"key": a.key})
				failed[a.key] = err
				return nil
			}
			report.Uploaded = append(report.Uploaded, a.key)
			if !result.DiffAvailable {
				diffAvailable = false
			}
			if result.Changed {
				report.Changed = append(report.Changed, a.key)
			} else {
				report.Unchanged = append(report.Unchanged, a.key)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(report.Uploaded)
	sort.Strings(report.Changed)
	sort.Strings(report.Unchanged)

	if len(failed) > 0 {
		perr := &PublishError{
			Bucket:   job.DestinationBucket,
			Uploaded: report.Uploaded,
			Failed:   failed,
			Pending:  InvalidationPaths(report.Changed, nil, diffAvailable, p.invalidationMode),
		}
		lsession.Error("upload-incomplete", perr)
		return report, perr
	}

	lsession.Info("uploaded", lager.Data{
		"uploaded":  len(report.Uploaded),
		"changed":   len(report.Changed),
		"unchanged": len(report.Unchanged),
	})

	everything := len(report.Changed) == len(report.Uploaded)
	report.InvalidationPaths = InvalidationPaths(report.Changed, job.InvalidationPaths, diffAvailable && !everything, p.invalidationMode)
	if len(report.InvalidationPaths) == 0 {
		lsession.Info("nothing-to-invalidate")
		return report, nil
	}

	id, err := p.cdn.Invalidate(ctx, job.ScopeDistribution.Id, report.InvalidationPaths)
	if err != nil {
		ierr := &InvalidationError{DistributionId: job.ScopeDistribution.Id, Paths: report.InvalidationPaths, Err: err}
		lsession.Error("invalidate", ierr)
		return report, ierr
	}
	report.InvalidationId = id

	lsession.Info("invalidated", lager.Data{
		"invalidation-id": id,
		"paths":           report.InvalidationPaths,
	})
	return report, nil
}

// Invalidate sends an invalidation on its own, for re-triggering one that was rejected.
func (p *ContentPublisher) Invalidate(ctx context.Context, dist models.DistributionRef, paths []string) (string, error) {
	lsession := p.logger.Session("invalidate", lager.Data{
		"distribution-id": dist.Id,
		"paths":           paths,
	})

	paths = InvalidationPaths(nil, paths, true, p.invalidationMode)
	if len(paths) == 0 {
		paths = []string{sitepipeline.InvalidateAllPath}
	}

	id, err := p.cdn.Invalidate(ctx, dist.Id, paths)
	if err != nil {
		ierr := &InvalidationError{DistributionId: dist.Id, Paths: paths, Err: err}
		lsession.Error("invalidate", ierr)
		return "", ierr
	}
	lsession.Info("invalidated", lager.Data{"invalidation-id": id})
	return id, nil
}

// InvalidationPaths turns changed keys into a bounded set of path patterns. "all" mode always gives the
// wildcard. Otherwise it falls back to the wildcard when precise is false or when the set would grow past
// sitepipeline.MaxInvalidationPaths, and nothing changed with nothing pending gives an empty set.
func InvalidationPaths(changedKeys, pending []string, precise bool, mode string) []string {
	if mode == InvalidateAll {
		return []string{sitepipeline.InvalidateAllPath}
	}
	if len(changedKeys) == 0 && len(pending) == 0 {
		return nil
	}
	if !precise && len(changedKeys) > 0 {
		return []string{sitepipeline.InvalidateAllPath}
	}

	paths := make([]string, 0, len(changedKeys)+len(pending))
	for _, key := range changedKeys {
		paths = append(paths, "/"+strings.TrimPrefix(key, "/"))
		// the root object is cached under / as well as under its own name.
		if key == sitepipeline.EntryDocument {
			paths = append(paths, "/")
		}
	}
	for _, p := range pending {
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		paths = append(paths, p)
	}

	paths = lo.Uniq(paths)
	if lo.Contains(paths, sitepipeline.InvalidateAllPath) || len(paths) > sitepipeline.MaxInvalidationPaths {
		return []string{sitepipeline.InvalidateAllPath}
	}
	sort.Strings(paths)
	return paths
}

func (p *ContentPublisher) put(ctx context.Context, bucket string, a artifact) (models.PutResult, error) {
	body, err := os.ReadFile(a.path)
	if err != nil {
		return models.PutResult{}, err
	}

	opts := models.PutOptions{ContentType: contentType(a.key, body)}
	if a.key == sitepipeline.EntryDocument {
		opts.CacheControl = p.entryDocumentCacheControl
	}

	p.limiter.Take()
	return p.store.Put(ctx, bucket, a.key, body, opts)
}

func collectArtifacts(dir string) ([]artifact, error) {
	var artifacts []artifact
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		artifacts = append(artifacts, artifact{key: filepath.ToSlash(rel), path: path})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(artifacts) == 0 {
		return nil, errNoArtifacts
	}
	return artifacts, nil
}

func contentType(key string, body []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(key)); t != "" {
		return t
	}
	return mimetype.Detect(body).String()
}

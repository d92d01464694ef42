package managers

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"code.cloudfoundry.org/lager/v3"
	sitepipeline "github.com/18f/site-pipeline"
	"github.com/18f/site-pipeline/models"
	"github.com/jinzhu/gorm"
	"github.com/pborman/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunPartial   = "partial"
	RunFailed    = "failed"
)

type StateManagerSettings struct {
	Db     *gorm.DB
	Logger lager.Logger

	// Send every query through the logger at debug.
	LogQueries bool
}

// StateManager records pipeline runs and their stages. It also enforces the stage dependency graph: a stage
// can't begin in a run until everything it depends on has succeeded in that run.
type StateManager struct {
	db     *gorm.DB
	logger lager.Logger
	mu     sync.Mutex
}

// RunModel is one pipeline run and the outputs it produced.
type RunModel struct {
	gorm.Model
	RunId          string `gorm:"not null;unique_index"`
	Domain         string `gorm:"not null;index"`
	Status         string
	ErrorMessage   string
	Site           string
	CertificateArn string
	Bucket         string
	DistributionId string

	// Comma separated paths from an invalidation that was rejected.
	PendingInvalidation string
	FinishedAt          *time.Time
}

// StageModel is a single stage inside a run.
type StageModel struct {
	gorm.Model
	RunId        string             `gorm:"not null;index"`
	Stage        sitepipeline.Stage `gorm:"not null"`
	Status       sitepipeline.StageStatus
	Component    string
	ErrorMessage string
	StartedAt    time.Time
	FinishedAt   *time.Time
}

// StageOrderError means a stage was started before its dependencies finished.
type StageOrderError struct {
	Stage   sitepipeline.Stage
	Missing []sitepipeline.Stage
}

func (e *StageOrderError) Error() string {
	missing := lo.Map(e.Missing, func(s sitepipeline.Stage, _ int) string { return string(s) })
	return fmt.Sprintf("stage %s cannot begin before %s", e.Stage, strings.Join(missing, ", "))
}

func NewStateManager(settings *StateManagerSettings) (*StateManager, error) {
	if settings.Db == nil {
		return nil, errors.New("database cannot be nil")
	}

	s := &StateManager{
		db:     settings.Db,
		logger: settings.Logger.Session("state-manager"),
	}

	if settings.LogQueries {
		s.db = s.db.Debug()
		s.db.SetLogger(dbLogger{logger: s.logger.Session("db-logger")})
	}

	if err := s.db.AutoMigrate(&RunModel{}, &StageModel{}).Error; err != nil {
		return nil, err
	}

	return s, nil
}

// StartRun opens a new run for a domain.
func (s *StateManager) StartRun(domain string) (string, error) {
	runId := uuid.New()
	lsession := s.logger.Session("start-run", lager.Data{
		"run-id": runId,
		"domain": domain,
	})

	if err := s.db.Create(&RunModel{
		RunId:  runId,
		Domain: domain,
		Status: RunRunning,
	}).Error; err != nil {
		lsession.Error("db-save-run", err)
		return "", err
	}

	lsession.Debug("run-started")
	return runId, nil
}

// Begin marks a stage as running.
func (s *StateManager) Begin(runId string, stage sitepipeline.Stage) error {
	lsession := s.logger.Session("stage-transition", lager.Data{
		"run-id": runId,
		"stage":  stage,
	})

	deps, ok := sitepipeline.StageDependencies[stage]
	if !ok {
		return fmt.Errorf("unknown stage %s", stage)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var done []StageModel
	if err := s.db.Where("run_id = ? AND status = ?", runId, sitepipeline.StageSucceeded).Find(&done).Error; err != nil {
		lsession.Error("db-find-stages", err)
		return err
	}
	succeeded := lo.Map(done, func(m StageModel, _ int) sitepipeline.Stage { return m.Stage })

	if missing := lo.Without(deps, succeeded...); len(missing) > 0 {
		oerr := &StageOrderError{Stage: stage, Missing: missing}
		lsession.Error("invalid-stage-transition", oerr)
		return oerr
	}

	if err := s.db.Create(&StageModel{
		RunId:     runId,
		Stage:     stage,
		Status:    sitepipeline.StageRunning,
		StartedAt: time.Now(),
	}).Error; err != nil {
		lsession.Error("db-save-stage", err)
		return err
	}

	lsession.Debug("stage-running")
	return nil
}

// Complete marks a running stage as succeeded.
func (s *StateManager) Complete(runId string, stage sitepipeline.Stage) error {
	return s.finishStage(runId, stage, sitepipeline.StageSucceeded, nil)
}

// Fail marks a running stage as failed, recording which component the error came from.
func (s *StateManager) Fail(runId string, stage sitepipeline.Stage, cause error) error {
	return s.finishStage(runId, stage, sitepipeline.StageFailed, cause)
}

func (s *StateManager) finishStage(runId string, stage sitepipeline.Stage, status sitepipeline.StageStatus, cause error) error {
	lsession := s.logger.Session("stage-transition", lager.Data{
		"run-id": runId,
		"stage":  stage,
		"status": status,
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	var model StageModel
	if err := s.db.Where("run_id = ? AND stage = ? AND status = ?", runId, stage, sitepipeline.StageRunning).First(&model).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			err = fmt.Errorf("stage %s is not running in run %s", stage, runId)
		}
		lsession.Error("db-find-stage", err)
		return err
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":      status,
		"finished_at": &now,
	}
	if cause != nil {
		updates["error_message"] = cause.Error()
		updates["component"] = ComponentOf(cause)
	}

	if err := s.db.Model(&model).Updates(updates).Error; err != nil {
		lsession.Error("db-update-stage", err)
		return err
	}
	return nil
}

// RecordOutputs stores the outputs known so far on the run.
func (s *StateManager) RecordOutputs(runId string, outputs models.Outputs) error {
	if err := s.db.Model(&RunModel{}).Where("run_id = ?", runId).Updates(map[string]interface{}{
		"site":            outputs.Site,
		"certificate_arn": outputs.Certificate,
		"bucket":          outputs.Bucket,
		"distribution_id": outputs.DistributionId,
	}).Error; err != nil {
		s.logger.Error("db-save-outputs", err, lager.Data{"run-id": runId})
		return err
	}
	return nil
}

// FinishRun closes a run.
func (s *StateManager) FinishRun(runId, status string, cause error) error {
	now := time.Now()
	updates := map[string]interface{}{
		"status":      status,
		"finished_at": &now,
	}
	if cause != nil {
		updates["error_message"] = cause.Error()
	}
	if err := s.db.Model(&RunModel{}).Where("run_id = ?", runId).Updates(updates).Error; err != nil {
		s.logger.Error("db-finish-run", err, lager.Data{"run-id": runId})
		return err
	}
	return nil
}

// SetPendingInvalidation remembers an invalidation that still has to happen.
func (s *StateManager) SetPendingInvalidation(runId string, paths []string) error {
	if err := s.db.Model(&RunModel{}).Where("run_id = ?", runId).
		Update("pending_invalidation", strings.Join(paths, ",")).Error; err != nil {
		s.logger.Error("db-save-pending-invalidation", err, lager.Data{"run-id": runId})
		return err
	}
	return nil
}

// PendingInvalidation returns every path still waiting to be invalidated for a domain.
func (s *StateManager) PendingInvalidation(domain string) ([]string, error) {
	var runs []RunModel
	if err := s.db.Where("domain = ? AND pending_invalidation <> ?", domain, "").Find(&runs).Error; err != nil {
		return nil, err
	}

	var paths []string
	for _, r := range runs {
		paths = append(paths, strings.Split(r.PendingInvalidation, ",")...)
	}
	return lo.Uniq(paths), nil
}

// ClearPendingInvalidation forgets every pending invalidation for a domain.
func (s *StateManager) ClearPendingInvalidation(domain string) error {
	return s.db.Model(&RunModel{}).Where("domain = ?", domain).Update("pending_invalidation", "").Error
}

// LatestRun returns the most recent run for a domain with its stages in the order they began.
func (s *StateManager) LatestRun(domain string) (RunModel, []StageModel, error) {
	var run RunModel
	if err := s.db.Where("domain = ?", domain).Order("id desc").First(&run).Error; err != nil {
		return RunModel{}, nil, err
	}

	var stages []StageModel
	if err := s.db.Where("run_id = ?", run.RunId).Order("id asc").Find(&stages).Error; err != nil {
		return RunModel{}, nil, err
	}
	return run, stages, nil
}

// LatestDeployment returns the most recent run for a domain that got as far as a distribution.
func (s *StateManager) LatestDeployment(domain string) (RunModel, error) {
	var run RunModel
	err := s.db.Where("domain = ? AND distribution_id <> ?", domain, "").Order("id desc").First(&run).Error
	return run, err
}

package managers

import (
	"testing"

	"code.cloudfoundry.org/lager/v3/lagertest"
	"github.com/DATA-DOG/go-sqlmock"
	sitepipeline "github.com/18f/site-pipeline"
	"github.com/18f/site-pipeline/models"
	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/postgres"
	_ "github.com/jinzhu/gorm/dialects/sqlite"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type StateManagerSuite struct {
	suite.Suite
	stateManager *StateManager
	db           *gorm.DB
}

func TestStateManagerSuite(t *testing.T) {
	suite.Run(t, new(StateManagerSuite))
}

func newTestDb(s suite.TestingSuite) *gorm.DB {
	db, err := gorm.Open("sqlite3", ":memory:")
	if err != nil {
		s.T().Fatal(err)
	}
	// an in memory database only lives as long as its connection.
	db.DB().SetMaxOpenConns(1)
	return db
}

func (s *StateManagerSuite) SetupTest() {
	s.db = newTestDb(s)

	var err error
	s.stateManager, err = NewStateManager(&StateManagerSettings{
		Db:         s.db,
		Logger:     lagertest.NewTestLogger("state-manager-test"),
		LogQueries: true,
	})
	s.Require().NoError(err, "there should be no error creating the state manager")
}

func (s *StateManagerSuite) TearDownTest() {
	s.Require().NoError(s.db.Close(), "there should be no error closing the database")
}

func (s *StateManagerSuite) TestNilDatabase() {
	_, err := NewStateManager(&StateManagerSettings{Logger: lagertest.NewTestLogger("state-manager-test")})
	s.Require().Error(err, "there should be an error without a database")
}

func (s *StateManagerSuite) TestStagesInDependencyOrder() {
	runId, err := s.stateManager.StartRun("example.com")
	s.Require().NoError(err, "there should be no error starting a run")
	s.Require().NotEmpty(runId, "the run should have an id")

	order := []sitepipeline.Stage{
		sitepipeline.ZoneStage,
		sitepipeline.CertificateStage,
		sitepipeline.OriginsStage,
		sitepipeline.DistributionStage,
		sitepipeline.PublishStage,
		sitepipeline.AliasStage,
	}
	for _, stage := range order {
		s.Require().NoError(s.stateManager.Begin(runId, stage), "there should be no error beginning %s", stage)
		s.Require().NoError(s.stateManager.Complete(runId, stage), "there should be no error completing %s", stage)
	}

	run, stages, err := s.stateManager.LatestRun("example.com")
	s.Require().NoError(err, "there should be no error reading the run")
	s.Require().Equal(runId, run.RunId, "the latest run should be the one started")
	s.Require().Len(stages, len(order), "every stage should be recorded")
	for idx := range stages {
		s.Require().Equal(order[idx], stages[idx].Stage, "stages should be returned in the order they began")
		s.Require().Equal(sitepipeline.StageSucceeded, stages[idx].Status, "every stage should have succeeded")
		s.Require().NotNil(stages[idx].FinishedAt, "every stage should have finished")
	}
}

func (s *StateManagerSuite) TestInvalidStageTransition() {
	runId, err := s.stateManager.StartRun("example.com")
	s.Require().NoError(err, "there should be no error starting a run")

	err = s.stateManager.Begin(runId, sitepipeline.AliasStage)
	s.Require().Error(err, "the alias stage should not begin before the zone and the distribution")

	var oerr *StageOrderError
	s.Require().True(errors.As(err, &oerr), "the error should be a stage order error")
	s.Require().ElementsMatch([]sitepipeline.Stage{sitepipeline.ZoneStage, sitepipeline.DistributionStage}, oerr.Missing, "both dependencies should be missing")

	s.Require().NoError(s.stateManager.Begin(runId, sitepipeline.ZoneStage), "there should be no error beginning the zone stage")
	err = s.stateManager.Begin(runId, sitepipeline.CertificateStage)
	s.Require().Error(err, "a running dependency does not count as done")
}

func (s *StateManagerSuite) TestDependenciesAreScopedToTheRun() {
	first, err := s.stateManager.StartRun("example.com")
	s.Require().NoError(err, "there should be no error starting a run")
	s.Require().NoError(s.stateManager.Begin(first, sitepipeline.ZoneStage), "there should be no error beginning the zone stage")
	s.Require().NoError(s.stateManager.Complete(first, sitepipeline.ZoneStage), "there should be no error completing the zone stage")

	second, err := s.stateManager.StartRun("example.com")
	s.Require().NoError(err, "there should be no error starting a run")
	s.Require().Error(s.stateManager.Begin(second, sitepipeline.CertificateStage), "another run's zone stage should not count")
}

func (s *StateManagerSuite) TestFailRecordsComponent() {
	runId, err := s.stateManager.StartRun("example.com")
	s.Require().NoError(err, "there should be no error starting a run")
	s.Require().NoError(s.stateManager.Begin(runId, sitepipeline.ZoneStage), "there should be no error beginning the zone stage")

	s.Require().NoError(s.stateManager.Fail(runId, sitepipeline.ZoneStage, &ZoneNotFoundError{Domain: "example.com"}), "there should be no error failing the stage")
	s.Require().NoError(s.stateManager.FinishRun(runId, RunFailed, errors.New("zone missing")), "there should be no error finishing the run")

	run, stages, err := s.stateManager.LatestRun("example.com")
	s.Require().NoError(err, "there should be no error reading the run")
	s.Require().Equal(RunFailed, run.Status, "the run should be failed")
	s.Require().Equal("zone missing", run.ErrorMessage, "the run error should be kept")
	s.Require().Len(stages, 1, "only the zone stage should be recorded")
	s.Require().Equal(sitepipeline.StageFailed, stages[0].Status, "the zone stage should be failed")
	s.Require().Equal(ZoneResolverComponent, stages[0].Component, "the failure should be attributed to the zone resolver")
	s.Require().Contains(stages[0].ErrorMessage, "no managed zone", "the error message should be kept")

	s.Require().Error(s.stateManager.Complete(runId, sitepipeline.ZoneStage), "a finished stage cannot complete again")
}

func (s *StateManagerSuite) TestOutputsAndPendingInvalidation() {
	runId, err := s.stateManager.StartRun("example.com")
	s.Require().NoError(err, "there should be no error starting a run")

	_, err = s.stateManager.LatestDeployment("example.com")
	s.Require().True(gorm.IsRecordNotFoundError(err), "there should be no deployment before a distribution exists")

	s.Require().NoError(s.stateManager.RecordOutputs(runId, models.Outputs{
		Site:           "https://example.com",
		Certificate:    "arn:aws:acm:us-east-1:123456789012:certificate/abc",
		Bucket:         "example.com",
		DistributionId: "E123",
	}), "there should be no error recording outputs")

	deployment, err := s.stateManager.LatestDeployment("example.com")
	s.Require().NoError(err, "there should be no error reading the deployment")
	s.Require().Equal("E123", deployment.DistributionId, "the distribution should be recorded")
	s.Require().Equal("https://example.com", deployment.Site, "the site should be recorded")

	s.Require().NoError(s.stateManager.SetPendingInvalidation(runId, []string{"/app.js", "/index.html"}), "there should be no error saving the pending invalidation")
	next, err := s.stateManager.StartRun("example.com")
	s.Require().NoError(err, "there should be no error starting a run")
	s.Require().NoError(s.stateManager.SetPendingInvalidation(next, []string{"/index.html", "/"}), "there should be no error saving the pending invalidation")

	pending, err := s.stateManager.PendingInvalidation("example.com")
	s.Require().NoError(err, "there should be no error reading the pending invalidation")
	s.Require().ElementsMatch([]string{"/app.js", "/index.html", "/"}, pending, "pending paths should be merged across runs")

	other, err := s.stateManager.PendingInvalidation("example.org")
	s.Require().NoError(err, "there should be no error reading the pending invalidation")
	s.Require().Empty(other, "pending paths should be scoped to the domain")

	s.Require().NoError(s.stateManager.ClearPendingInvalidation("example.com"), "there should be no error clearing the pending invalidation")
	pending, err = s.stateManager.PendingInvalidation("example.com")
	s.Require().NoError(err, "there should be no error reading the pending invalidation")
	s.Require().Empty(pending, "nothing should be pending after a clear")
}

func (s *StateManagerSuite) TestRecordOutputsDatabaseFailure() {
	sqlDb, mock, err := sqlmock.New()
	s.Require().NoError(err, "there should be no error creating the sql mock")
	defer sqlDb.Close()

	db, err := gorm.Open("postgres", sqlDb)
	s.Require().NoError(err, "there should be no error opening gorm on the mock")

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "run_models"`).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	manager := &StateManager{db: db, logger: lagertest.NewTestLogger("state-manager-test")}
	err = manager.RecordOutputs("run", models.Outputs{Site: "https://example.com"})
	s.Require().Error(err, "the database error should be returned")
	s.Require().Contains(err.Error(), "connection reset", "the database error should be returned as is")
	s.Require().NoError(mock.ExpectationsWereMet(), "the update should have been attempted in a transaction")
}

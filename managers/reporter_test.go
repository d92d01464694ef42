package managers

import (
	"os"
	"path/filepath"
	"testing"

	"code.cloudfoundry.org/lager/v3/lagertest"
	"github.com/18f/site-pipeline/models"
	"github.com/stretchr/testify/suite"
)

type ReporterSuite struct {
	suite.Suite
	logger   *lagertest.TestLogger
	dir      string
	expected models.Outputs
}

func TestReporterSuite(t *testing.T) {
	suite.Run(t, new(ReporterSuite))
}

func (s *ReporterSuite) SetupTest() {
	s.logger = lagertest.NewTestLogger("reporter-test")
	s.dir = s.T().TempDir()
	s.expected = models.Outputs{
		Site:           "https://example.com",
		Certificate:    "arn:aws:acm:us-east-1:123456789012:certificate/abc",
		Bucket:         "example.com",
		DistributionId: "E2QWRUHEXAMPLE",
	}
}

func (s *ReporterSuite) report(r *Reporter) {
	s.Require().NoError(r.Report(OutputSite, s.expected.Site), "there should be no error reporting the site")
	s.Require().NoError(r.Report(OutputCertificate, s.expected.Certificate), "there should be no error reporting the certificate")
	s.Require().NoError(r.Report(OutputBucket, s.expected.Bucket), "there should be no error reporting the bucket")
	s.Require().NoError(r.Report(OutputDistributionId, s.expected.DistributionId), "there should be no error reporting the distribution")
}

func (s *ReporterSuite) TestJsonOutputs() {
	path := filepath.Join(s.dir, "outputs.json")
	r := NewReporter(&ReporterSettings{OutputsFile: path, Logger: s.logger})
	s.report(r)
	s.Require().NoError(r.Flush(""), "there should be no error flushing")

	body, err := os.ReadFile(path)
	s.Require().NoError(err, "there should be no error reading the outputs")
	s.Require().Contains(string(body), `"DistributionId": "E2QWRUHEXAMPLE"`, "outputs should be keyed by name")

	outputs, err := ReadOutputs(path)
	s.Require().NoError(err, "there should be no error decoding the outputs")
	s.Require().Equal(s.expected, outputs, "the outputs should survive the file")
}

func (s *ReporterSuite) TestYamlOutputs() {
	path := filepath.Join(s.dir, "outputs.yml")
	r := NewReporter(&ReporterSettings{OutputsFile: path, Logger: s.logger})
	s.report(r)
	s.Require().NoError(r.Flush(""), "there should be no error flushing")

	body, err := os.ReadFile(path)
	s.Require().NoError(err, "there should be no error reading the outputs")
	s.Require().Contains(string(body), "Bucket: example.com", "yaml outputs should be keyed by name")

	outputs, err := ReadOutputs(path)
	s.Require().NoError(err, "there should be no error decoding the outputs")
	s.Require().Equal(s.expected, outputs, "the outputs should survive the file")
}

func (s *ReporterSuite) TestPartialOutputs() {
	r := NewReporter(&ReporterSettings{Logger: s.logger})
	s.Require().NoError(r.Report(OutputCertificate, s.expected.Certificate), "there should be no error reporting the certificate")

	outputs := r.Outputs()
	s.Require().Equal(s.expected.Certificate, outputs.Certificate, "reported values should be visible straight away")
	s.Require().Empty(outputs.Site, "unreported values should stay empty")
	s.Require().NoError(r.Flush(""), "flushing with nowhere to write should do nothing")
	s.Require().Len(s.logger.Logs(), 1, "every reported value should be logged")
}

func (s *ReporterSuite) TestUnknownOutput() {
	r := NewReporter(&ReporterSettings{Logger: s.logger})
	s.Require().Error(r.Report("Region", "us-east-1"), "there should be an error for an unknown output")
	s.Require().Equal(models.Outputs{}, r.Outputs(), "nothing should be recorded")
}

func (s *ReporterSuite) TestFlushPersistsOnRun() {
	db := newTestDb(s)
	defer db.Close()

	state, err := NewStateManager(&StateManagerSettings{Db: db, Logger: s.logger})
	s.Require().NoError(err, "there should be no error creating the state manager")
	runId, err := state.StartRun("example.com")
	s.Require().NoError(err, "there should be no error starting a run")

	r := NewReporter(&ReporterSettings{State: state, Logger: s.logger})
	s.report(r)
	s.Require().NoError(r.Flush(runId), "there should be no error flushing")

	run, _, err := state.LatestRun("example.com")
	s.Require().NoError(err, "there should be no error reading the run")
	s.Require().Equal(s.expected.DistributionId, run.DistributionId, "the distribution should be on the run")
	s.Require().Equal(s.expected.Certificate, run.CertificateArn, "the certificate should be on the run")

	r = NewReporter(&ReporterSettings{OutputsFile: filepath.Join(s.dir, "missing", "outputs.json"), Logger: s.logger})
	s.Require().Error(r.Flush(""), "there should be an error when the outputs file cannot be written")
}

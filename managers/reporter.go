package managers

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"code.cloudfoundry.org/lager/v3"
	"github.com/18f/site-pipeline/models"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Output keys.
const (
	OutputSite           = "Site"
	OutputCertificate    = "Certificate"
	OutputBucket         = "Bucket"
	OutputDistributionId = "DistributionId"
)

type ReporterSettings struct {
	// Optional, .yaml and .yml get YAML, anything else JSON.
	OutputsFile string

	// Optional, persists outputs on the run.
	State *StateManager

	Logger lager.Logger
}

// Reporter collects the values operators need once a run is over and surfaces each one as soon as it is known.
type Reporter struct {
	logger      lager.Logger
	mu          sync.Mutex
	outputs     models.Outputs
	outputsFile string
	state       *StateManager
}

func NewReporter(settings *ReporterSettings) *Reporter {
	return &Reporter{
		logger:      settings.Logger.Session("reporter"),
		outputsFile: settings.OutputsFile,
		state:       settings.State,
	}
}

// Report records one output.
func (r *Reporter) Report(key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch key {
	case OutputSite:
		r.outputs.Site = value
	case OutputCertificate:
		r.outputs.Certificate = value
	case OutputBucket:
		r.outputs.Bucket = value
	case OutputDistributionId:
		r.outputs.DistributionId = value
	default:
		return errors.Errorf("unknown output %s", key)
	}

	r.logger.Info("output", lager.Data{
		"key":   key,
		"value": value,
	})
	return nil
}

// Outputs returns a copy of what has been reported so far.
func (r *Reporter) Outputs() models.Outputs {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outputs
}

// Flush persists the outputs on the run and writes the outputs file when one is configured. Both are attempted.
func (r *Reporter) Flush(runId string) error {
	outputs := r.Outputs()

	var ferr error
	if r.state != nil && runId != "" {
		if err := r.state.RecordOutputs(runId, outputs); err != nil {
			ferr = errors.Wrap(err, "persisting outputs")
		}
	}
	if r.outputsFile != "" {
		if err := WriteOutputs(r.outputsFile, outputs); err != nil {
			r.logger.Error("write-outputs", err, lager.Data{"path": r.outputsFile})
			if ferr == nil {
				ferr = err
			}
		}
	}
	return ferr
}

// WriteOutputs writes outputs to path, as YAML when the extension says so and JSON otherwise.
func WriteOutputs(path string, outputs models.Outputs) error {
	var (
		body []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		body, err = yaml.Marshal(outputs)
	default:
		body, err = json.MarshalIndent(outputs, "", "  ")
		body = append(body, '\n')
	}
	if err != nil {
		return errors.Wrap(err, "encoding outputs")
	}
	return errors.Wrap(os.WriteFile(path, body, 0o644), "writing outputs")
}

// ReadOutputs is the inverse of WriteOutputs.
func ReadOutputs(path string) (models.Outputs, error) {
	var outputs models.Outputs
	body, err := os.ReadFile(path)
	if err != nil {
		return outputs, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(body, &outputs)
	default:
		err = json.Unmarshal(body, &outputs)
	}
	return outputs, errors.Wrap(err, "decoding outputs")
}

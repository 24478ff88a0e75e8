package buildsys

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// ToolchainStatus is the outcome of a single toolchain in a run
type ToolchainStatus string

const (
	StatusNotReached ToolchainStatus = "not-reached"
	StatusSkipped    ToolchainStatus = "skipped"
	StatusBuilt      ToolchainStatus = "built"
	StatusFailed     ToolchainStatus = "failed"
)

// ToolchainReport records what happened to one toolchain
type ToolchainReport struct {
	Name     string          `yaml:"name"`
	Marker   string          `yaml:"marker"`
	Status   ToolchainStatus `yaml:"status"`
	ExitCode int             `yaml:"exit_code,omitempty"`
}

// Report describes the outcome of a single run
type Report struct {
	RunID      string            `yaml:"run_id"`
	Dir        string            `yaml:"dir"`
	DryRun     bool              `yaml:"dry_run,omitempty"`
	Stage      string            `yaml:"stage"`
	Toolchains []ToolchainReport `yaml:"toolchains"`
	Outputs    []string          `yaml:"outputs"`
	Error      string            `yaml:"error,omitempty"`
}

func newReport(runID, dir string, dryRun bool, plan *Plan) *Report {
	r := &Report{
		RunID:      runID,
		Dir:        dir,
		DryRun:     dryRun,
		Stage:      StageIdle.String(),
		Toolchains: make([]ToolchainReport, len(plan.Toolchains)),
		Outputs:    []string{},
	}

	for idx, tc := range plan.Toolchains {
		r.Toolchains[idx] = ToolchainReport{
			Name:   tc.Name,
			Marker: tc.Marker,
			Status: StatusNotReached,
		}
	}
	return r
}

func (r *Report) toolchain(name string) *ToolchainReport {
	for idx := range r.Toolchains {
		if r.Toolchains[idx].Name == name {
			return &r.Toolchains[idx]
		}
	}
	return nil
}

// Invoked returns the names of all toolchains which were started, in order.
func (r *Report) Invoked() []string {
	result := []string{}
	for _, tc := range r.Toolchains {
		if tc.Status == StatusBuilt || tc.Status == StatusFailed {
			result = append(result, tc.Name)
		}
	}
	return result
}

// WriteFile stores the report as YAML
func (r *Report) WriteFile(file string) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return eris.Wrap(err, "failed to encode report")
	}

	err = os.WriteFile(file, data, 0660)
	if err != nil {
		return eris.Wrapf(err, "failed to write report to %s", file)
	}

	return nil
}

// ReadReport loads a report written by WriteFile
func ReadReport(file string) (*Report, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read %s", file)
	}

	var r Report
	err = yaml.Unmarshal(data, &r)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse %s", file)
	}

	return &r, nil
}

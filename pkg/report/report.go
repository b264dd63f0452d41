package report

import (
	"encoding/json"

	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"

	"github.com/e2elab/runnoor/pkg/store"
)

// RawReport is the runner's own JSON report shape. It is untrusted,
// transient input: field types drift across runner versions, and the same
// spec/test title may be emitted multiple times across retries and workers.
type RawReport struct {
	Stats  RawStats   `mapstructure:"stats"`
	Suites []RawSuite `mapstructure:"suites"`
}

// RawStats holds the runner's aggregate counters.
type RawStats struct {
	Expected   int     `mapstructure:"expected"`
	Unexpected int     `mapstructure:"unexpected"`
	Flaky      int     `mapstructure:"flaky"`
	Skipped    int     `mapstructure:"skipped"`
	Duration   float64 `mapstructure:"duration"`
}

// RawSuite groups specs under a shared file title.
type RawSuite struct {
	Title string    `mapstructure:"title"`
	Specs []RawSpec `mapstructure:"specs"`
}

// RawSpec groups tests under a shared title. OK is a pointer because the
// runner omits it in some versions.
type RawSpec struct {
	Title string    `mapstructure:"title"`
	OK    *bool     `mapstructure:"ok"`
	Tests []RawTest `mapstructure:"tests"`
}

// RawTest is a single test attempt.
type RawTest struct {
	Title    string    `mapstructure:"title"`
	Status   string    `mapstructure:"status"`
	OK       bool      `mapstructure:"ok"`
	Duration float64   `mapstructure:"duration"`
	Error    *RawError `mapstructure:"error"`
	Steps    []RawStep `mapstructure:"steps"`
}

// RawStep is one reported step inside a test attempt.
type RawStep struct {
	Title    string    `mapstructure:"title"`
	Duration float64   `mapstructure:"duration"`
	Error    *RawError `mapstructure:"error"`
}

// RawError carries the runner's failure detail.
type RawError struct {
	Message string `mapstructure:"message"`
	Stack   string `mapstructure:"stack"`
}

// NormalizedResult is the canonical, deduplicated result tree handed to the
// UI and serialized into the execution history.
type NormalizedResult struct {
	Success     bool         `json:"success"`
	Stats       RawStats     `json:"stats"`
	Suites      []Suite      `json:"suites"`
	StepResults []StepResult `json:"stepResults,omitempty"`
}

// Suite is a deduplicated suite entry.
type Suite struct {
	Title string `json:"title"`
	Specs []Spec `json:"specs"`
}

// Spec is a deduplicated spec entry.
type Spec struct {
	Title string `json:"title"`
	OK    bool   `json:"ok"`
	Tests []Test `json:"tests"`
}

// Test is a deduplicated test entry. steps carries the kept attempt's raw
// step list for positional zipping; it is not part of the serialized shape.
type Test struct {
	Title    string       `json:"title"`
	Status   string       `json:"status"`
	Passed   bool         `json:"passed"`
	Duration float64      `json:"duration"`
	Error    *ErrorDetail `json:"error,omitempty"`

	steps []RawStep
}

// ErrorDetail is the normalized failure detail.
type ErrorDetail struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// StepResult is one per-step outcome aligned to the originating step order.
type StepResult struct {
	Action   string  `json:"action"`
	Success  bool    `json:"success"`
	Duration float64 `json:"duration"`
	Error    string  `json:"error,omitempty"`
}

// Normalizer turns raw runner reports into NormalizedResults.
type Normalizer interface {
	// Normalize parses raw and projects it into the canonical shape.
	// Returns nil when the text does not parse: the caller treats the run
	// as completed with unparsed output, never as an error.
	Normalize(raw []byte, steps []store.Step) *NormalizedResult
}

// Compile-time interface check.
var _ Normalizer = (*normalizer)(nil)

type normalizer struct {
	log logrus.FieldLogger
}

// NewNormalizer creates a new report normalizer.
func NewNormalizer(log logrus.FieldLogger) Normalizer {
	return &normalizer{
		log: log.WithField("component", "report-normalizer"),
	}
}

func (n *normalizer) Normalize(raw []byte, steps []store.Step) *NormalizedResult {
	rep, err := decode(raw)
	if err != nil {
		n.log.WithError(err).Warn("Failed to parse runner report")

		return nil
	}

	result := &NormalizedResult{
		Success: rep.Stats.Unexpected == 0,
		Stats:   rep.Stats,
		Suites:  make([]Suite, 0, len(rep.Suites)),
	}

	for _, rawSuite := range rep.Suites {
		result.Suites = append(result.Suites, Suite{
			Title: rawSuite.Title,
			Specs: dedupeSpecs(rawSuite.Specs),
		})
	}

	result.StepResults = zipSteps(result.Suites, steps)

	return result
}

// decode unmarshals into a loose map first, then weakly decodes into the
// typed shape so numeric and boolean fields survive type drift between
// runner versions.
func decode(raw []byte) (*RawReport, error) {
	var loose map[string]any
	if err := json.Unmarshal(raw, &loose); err != nil {
		return nil, err
	}

	var rep RawReport

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &rep,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}

	if err := dec.Decode(loose); err != nil {
		return nil, err
	}

	return &rep, nil
}

// dedupeSpecs collapses repeated spec titles. A failing duplicate always
// replaces a passing one: surface problems, never hide them behind a later
// passing retry.
func dedupeSpecs(raw []RawSpec) []Spec {
	specs := make([]Spec, 0, len(raw))
	index := make(map[string]int, len(raw))

	for _, rs := range raw {
		spec := Spec{
			Title: rs.Title,
			OK:    rs.OK == nil || *rs.OK,
			Tests: dedupeTests(rs.Tests),
		}

		pos, seen := index[rs.Title]
		if !seen {
			index[rs.Title] = len(specs)
			specs = append(specs, spec)

			continue
		}

		if rs.OK != nil && !*rs.OK {
			specs[pos] = spec
		}
	}

	return specs
}

// dedupeTests collapses repeated test titles within a spec, keeping the
// non-passing variant when any duplicate failed.
func dedupeTests(raw []RawTest) []Test {
	tests := make([]Test, 0, len(raw))
	index := make(map[string]int, len(raw))

	for _, rt := range raw {
		test := Test{
			Title:    rt.Title,
			Status:   rt.Status,
			Passed:   testPassed(&rt),
			Duration: rt.Duration,
			steps:    rt.Steps,
		}
		if rt.Error != nil {
			test.Error = &ErrorDetail{
				Message: rt.Error.Message,
				Stack:   rt.Error.Stack,
			}
		}

		pos, seen := index[rt.Title]
		if !seen {
			index[rt.Title] = len(tests)
			tests = append(tests, test)

			continue
		}

		if !test.Passed {
			tests[pos] = test
		}
	}

	return tests
}

// testPassed unions the status and the explicit flag: the runner is
// inconsistent about which field carries pass/fail across versions.
func testPassed(t *RawTest) bool {
	return t.Status == "passed" || t.Status == "expected" || t.OK
}

// zipSteps recovers per-step results for the common single-test-case run.
// Runner steps are matched to domain step records positionally, not by
// title, because the runner's step titles do not reliably match domain
// step actions. Positions past the domain list fall back to the runner's
// own step title as the action label.
func zipSteps(suites []Suite, steps []store.Step) []StepResult {
	rawSteps, ok := singleTestSteps(suites)
	if !ok {
		return nil
	}

	results := make([]StepResult, 0, len(rawSteps))

	for i, rs := range rawSteps {
		sr := StepResult{
			Action:   rs.Title,
			Success:  rs.Error == nil,
			Duration: rs.Duration,
		}

		if i < len(steps) {
			sr.Action = steps[i].Action
		}

		if rs.Error != nil {
			sr.Error = rs.Error.Message
		}

		results = append(results, sr)
	}

	return results
}

// singleTestSteps returns the raw step list when the normalized tree holds
// exactly one suite, one spec, and one test.
func singleTestSteps(suites []Suite) ([]RawStep, bool) {
	if len(suites) != 1 || len(suites[0].Specs) != 1 {
		return nil, false
	}

	tests := suites[0].Specs[0].Tests
	if len(tests) != 1 {
		return nil, false
	}

	return tests[0].steps, len(tests[0].steps) > 0
}

package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/e2elab/runnoor/pkg/script"
	"github.com/e2elab/runnoor/pkg/store"
)

var importProjectName string

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import test case definitions from a YAML file",
	Long: `Import reads fixture and test case definitions from a YAML file,
loads them into the given project, replacing the steps of entries that
already exist by name, and regenerates the spec files.`,
	Args: cobra.ExactArgs(1),
	RunE: importTestCases,
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().StringVar(&importProjectName, "project", "",
		"target project name (created when missing)")
	_ = importCmd.MarkFlagRequired("project")
}

// importFile is the YAML document shape.
type importFile struct {
	BaseURL   string           `yaml:"base_url,omitempty"`
	Fixtures  []importFixture  `yaml:"fixtures,omitempty"`
	TestCases []importTestCase `yaml:"test_cases"`
}

type importFixture struct {
	Name  string       `yaml:"name"`
	Steps []importStep `yaml:"steps"`
}

type importTestCase struct {
	Name  string       `yaml:"name"`
	Tags  []string     `yaml:"tags,omitempty"`
	Steps []importStep `yaml:"steps"`
}

type importStep struct {
	Action   string `yaml:"action"`
	Selector string `yaml:"selector,omitempty"`
	Data     string `yaml:"data,omitempty"`
	Expected string `yaml:"expected,omitempty"`
	Disabled bool   `yaml:"disabled,omitempty"`

	// Fixture references a reusable step group by name instead of
	// carrying an action of its own.
	Fixture string `yaml:"fixture,omitempty"`
}

func importTestCases(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading import file: %w", err)
	}

	var doc importFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing import file: %w", err)
	}

	if err := validateImport(&doc); err != nil {
		return err
	}

	ctx := cmd.Context()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}

	defer a.stop()

	project, err := ensureProject(ctx, a.store, importProjectName, doc.BaseURL)
	if err != nil {
		return err
	}

	fixtures, err := importFixtures(ctx, a.store, project, doc.Fixtures)
	if err != nil {
		return err
	}

	mat := script.NewMaterializer(log, a.cfg.TestDirPath())

	base := project.BaseURL
	if base == "" {
		base = a.cfg.Project.BaseURL
	}

	for _, tc := range doc.TestCases {
		target, err := importOne(ctx, a.store, project, &tc, fixtures)
		if err != nil {
			return fmt.Errorf("importing %q: %w", tc.Name, err)
		}

		steps, err := a.store.ListResolvedSteps(ctx, target.ID)
		if err != nil {
			return fmt.Errorf("resolving steps for %q: %w", tc.Name, err)
		}

		if _, err := mat.Materialize(target, steps, base); err != nil {
			return fmt.Errorf("materializing %q: %w", tc.Name, err)
		}

		log.WithField("test_case", tc.Name).Info("Test case imported")
	}

	log.WithFields(logrus.Fields{
		"project":    project.Name,
		"test_cases": len(doc.TestCases),
		"fixtures":   len(doc.Fixtures),
	}).Info("Import completed")

	return nil
}

// validateImport rejects documents with unnamed or empty entries before
// anything touches the store.
func validateImport(doc *importFile) error {
	if len(doc.TestCases) == 0 {
		return fmt.Errorf("import file contains no test cases")
	}

	for i, f := range doc.Fixtures {
		if f.Name == "" {
			return fmt.Errorf("fixture %d has no name", i+1)
		}

		if len(f.Steps) == 0 {
			return fmt.Errorf("fixture %q has no steps", f.Name)
		}

		for j, s := range f.Steps {
			if s.Fixture != "" {
				return fmt.Errorf("fixture %q step %d references another fixture", f.Name, j+1)
			}

			if s.Action == "" {
				return fmt.Errorf("fixture %q step %d has no action", f.Name, j+1)
			}
		}
	}

	for i, tc := range doc.TestCases {
		if tc.Name == "" {
			return fmt.Errorf("test case %d has no name", i+1)
		}

		if len(tc.Steps) == 0 {
			return fmt.Errorf("test case %q has no steps", tc.Name)
		}

		for j, s := range tc.Steps {
			if s.Action == "" && s.Fixture == "" {
				return fmt.Errorf("test case %q step %d has no action", tc.Name, j+1)
			}
		}
	}

	return nil
}

// ensureProject loads the target project, creating it when missing.
func ensureProject(
	ctx context.Context, st store.Store, name, baseURL string,
) (*store.Project, error) {
	project, err := st.GetProjectByName(ctx, name)
	if err == nil {
		return project, nil
	}

	project = &store.Project{Name: name, BaseURL: baseURL}
	if err := st.CreateProject(ctx, project); err != nil {
		return nil, fmt.Errorf("creating project: %w", err)
	}

	log.WithField("project", name).Info("Project created")

	return project, nil
}

// importFixtures upserts the document's fixtures and returns a name to id
// map covering them plus any pre-existing fixtures resolved on demand.
func importFixtures(
	ctx context.Context, st store.Store, project *store.Project, fixtures []importFixture,
) (map[string]uint, error) {
	ids := make(map[string]uint, len(fixtures))

	for _, f := range fixtures {
		target, err := st.GetFixtureByName(ctx, project.ID, f.Name)
		if err != nil {
			target = &store.Fixture{ProjectID: project.ID, Name: f.Name}
			if err := st.CreateFixture(ctx, target); err != nil {
				return nil, fmt.Errorf("creating fixture %q: %w", f.Name, err)
			}
		}

		if err := st.ReplaceFixtureSteps(ctx, target.ID, toSteps(f.Steps)); err != nil {
			return nil, fmt.Errorf("importing fixture %q: %w", f.Name, err)
		}

		ids[f.Name] = target.ID

		log.WithField("fixture", f.Name).Info("Fixture imported")
	}

	return ids, nil
}

// importOne upserts a single test case and replaces its steps.
func importOne(
	ctx context.Context,
	st store.Store,
	project *store.Project,
	tc *importTestCase,
	fixtures map[string]uint,
) (*store.TestCase, error) {
	target, err := findTestCase(ctx, st, project.ID, tc.Name)
	if err != nil {
		return nil, err
	}

	if target == nil {
		target = &store.TestCase{
			ProjectID: project.ID,
			Name:      tc.Name,
			Tags:      strings.Join(tc.Tags, ","),
		}
		if err := st.CreateTestCase(ctx, target); err != nil {
			return nil, err
		}
	}

	resolve := func(name string) (uint, error) {
		if id, ok := fixtures[name]; ok {
			return id, nil
		}

		f, err := st.GetFixtureByName(ctx, project.ID, name)
		if err != nil {
			return 0, fmt.Errorf("unknown fixture %q: %w", name, err)
		}

		return f.ID, nil
	}

	steps := make([]store.Step, 0, len(tc.Steps))

	for i, s := range tc.Steps {
		step := store.Step{
			Order:    i + 1,
			Action:   s.Action,
			Selector: s.Selector,
			Data:     s.Data,
			Expected: s.Expected,
			Disabled: s.Disabled,
		}

		if s.Fixture != "" {
			id, err := resolve(s.Fixture)
			if err != nil {
				return nil, err
			}

			step.RefFixtureID = &id
		}

		steps = append(steps, step)
	}

	if err := st.ReplaceSteps(ctx, target.ID, steps); err != nil {
		return nil, err
	}

	return target, nil
}

// toSteps converts import steps into store steps with a contiguous order.
func toSteps(in []importStep) []store.Step {
	steps := make([]store.Step, 0, len(in))

	for i, s := range in {
		steps = append(steps, store.Step{
			Order:    i + 1,
			Action:   s.Action,
			Selector: s.Selector,
			Data:     s.Data,
			Expected: s.Expected,
			Disabled: s.Disabled,
		})
	}

	return steps
}

// findTestCase returns the project's test case with the given name, or
// nil when none exists.
func findTestCase(
	ctx context.Context, st store.Store, projectID uint, name string,
) (*store.TestCase, error) {
	tcs, err := st.ListTestCases(ctx, projectID)
	if err != nil {
		return nil, err
	}

	for i := range tcs {
		if tcs[i].Name == name {
			return &tcs[i], nil
		}
	}

	return nil, nil
}

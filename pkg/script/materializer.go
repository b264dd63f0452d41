package script

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/e2elab/runnoor/pkg/fsutil"
	"github.com/e2elab/runnoor/pkg/store"
)

// Materializer converts a test case's ordered steps into an executable
// Playwright spec file on disk.
type Materializer interface {
	// Materialize writes the spec file for the test case and returns the
	// file name relative to the test directory.
	Materialize(tc *store.TestCase, steps []store.Step, baseURL string) (string, error)
}

// Compile-time interface check.
var _ Materializer = (*materializer)(nil)

type materializer struct {
	log     logrus.FieldLogger
	testDir string
}

// NewMaterializer creates a materializer writing into testDir.
func NewMaterializer(log logrus.FieldLogger, testDir string) Materializer {
	return &materializer{
		log:     log.WithField("component", "script-materializer"),
		testDir: testDir,
	}
}

var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]+`)

// FileName derives a filesystem-safe spec file name from a test case's
// display name: case-folded, non-alphanumeric runs collapsed to a dash.
func FileName(name string) string {
	slug := nonAlphanumeric.ReplaceAllString(strings.ToLower(name), "-")
	slug = strings.Trim(slug, "-")

	if slug == "" {
		slug = "unnamed"
	}

	return slug + ".spec.ts"
}

func (m *materializer) Materialize(
	tc *store.TestCase, steps []store.Step, baseURL string,
) (string, error) {
	if err := os.MkdirAll(m.testDir, 0o755); err != nil {
		return "", fmt.Errorf("creating test directory: %w", err)
	}

	ordered := make([]store.Step, 0, len(steps))

	for _, s := range steps {
		if s.Disabled {
			continue
		}

		ordered = append(ordered, s)
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Order < ordered[j].Order
	})

	name := FileName(tc.Name)
	content := render(tc, ordered, baseURL)

	path := filepath.Join(m.testDir, name)
	if err := fsutil.WriteFileAtomic(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing spec file: %w", err)
	}

	m.log.WithFields(logrus.Fields{
		"file":  name,
		"steps": len(ordered),
	}).Info("Spec file materialized")

	return name, nil
}

// render emits a syntactically valid but minimal spec body: a navigation
// to the base URL plus one annotated line per enabled step. Per-step code
// emission is the consolidation pipeline's job; the step lines here keep
// the file reviewable and give the runner something to attribute steps to.
func render(tc *store.TestCase, steps []store.Step, baseURL string) string {
	var b strings.Builder

	b.WriteString("import { test, expect } from '@playwright/test';\n\n")

	title := escapeSingleQuotes(tc.Name)

	tags := tc.TagList()
	if len(tags) > 0 {
		quoted := make([]string, 0, len(tags))
		for _, t := range tags {
			if !strings.HasPrefix(t, "@") {
				t = "@" + t
			}

			quoted = append(quoted, "'"+escapeSingleQuotes(t)+"'")
		}

		fmt.Fprintf(&b, "test('%s', { tag: [%s] }, async ({ page }) => {\n",
			title, strings.Join(quoted, ", "))
	} else {
		fmt.Fprintf(&b, "test('%s', async ({ page }) => {\n", title)
	}

	// The navigation rides inside the first step so the report's top
	// level step list lines up one to one with the domain steps.
	if baseURL != "" && len(steps) == 0 {
		fmt.Fprintf(&b, "  await page.goto('%s');\n", escapeSingleQuotes(baseURL))
	}

	for i, s := range steps {
		fmt.Fprintf(&b, "  await test.step('%s', async () => {\n",
			escapeSingleQuotes(stepTitle(&s)))

		if i == 0 && baseURL != "" {
			fmt.Fprintf(&b, "    await page.goto('%s');\n", escapeSingleQuotes(baseURL))
		}

		b.WriteString("    // generated by the consolidation pipeline\n")
		b.WriteString("  });\n")
	}

	b.WriteString("});\n")

	return b.String()
}

// stepTitle builds the step annotation from action, data, and expectation.
func stepTitle(s *store.Step) string {
	title := s.Action

	if s.Selector != "" {
		title += " " + s.Selector
	}

	if s.Data != "" {
		title += ": " + s.Data
	}

	if s.Expected != "" {
		title += " (expect: " + s.Expected + ")"
	}

	return title
}

func escapeSingleQuotes(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)

	return strings.ReplaceAll(s, "'", `\'`)
}

package pwconfig

import (
	"fmt"
	"strings"
	"text/template"
)

// TemplateConfig parameterizes a freshly generated playwright.config.ts.
type TemplateConfig struct {
	TestDir       string
	OutputDir     string
	TimeoutMS     int
	ExpectTimeout int
	Retries       int
	Workers       int
	BaseURL       string
	ReportFile    string
	Browsers      []string
}

// configTemplate is the full config emitted by setup. It must stay
// patchable by ApplyPatch, so field layout follows the canonical form
// the patcher produces.
const configTemplate = `import { defineConfig, devices } from '@playwright/test';

export default defineConfig({
  testDir: '{{ .TestDir }}',
  outputDir: '{{ .OutputDir }}',
  timeout: {{ .TimeoutMS }},
  expect: {
    timeout: {{ .ExpectTimeout }},
  },
  fullyParallel: false,
  retries: {{ .Retries }},
  workers: {{ .Workers }},
  reporter: [['list'], ['json', { outputFile: '{{ .ReportFile }}' }]],
  use: {
    baseURL: '{{ .BaseURL }}',
    trace: 'retain-on-failure',
    screenshot: 'only-on-failure',
    video: 'retain-on-failure',
  },
  projects: [
{{- range .Browsers }}
{{- if index $.Devices . }}
    {
      name: '{{ . }}',
      use: { ...devices['{{ index $.Devices . }}'] },
    },
{{- end }}
{{- end }}
  ],
});
`

// RenderTemplate generates a complete playwright.config.ts.
func RenderTemplate(tc TemplateConfig) (string, error) {
	applyTemplateDefaults(&tc)

	tmpl, err := template.New("playwright.config.ts").Parse(configTemplate)
	if err != nil {
		return "", fmt.Errorf("parsing config template: %w", err)
	}

	data := struct {
		TemplateConfig
		Devices map[string]string
	}{tc, browserDevices}

	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("rendering config template: %w", err)
	}

	return b.String(), nil
}

func applyTemplateDefaults(tc *TemplateConfig) {
	if tc.TestDir == "" {
		tc.TestDir = "tests"
	}

	if tc.OutputDir == "" {
		tc.OutputDir = "test-results"
	}

	if tc.TimeoutMS == 0 {
		tc.TimeoutMS = 30000
	}

	if tc.ExpectTimeout == 0 {
		tc.ExpectTimeout = 5000
	}

	if tc.Workers == 0 {
		tc.Workers = 1
	}

	if tc.BaseURL == "" {
		tc.BaseURL = "http://localhost:3000"
	}

	if tc.ReportFile == "" {
		tc.ReportFile = "report.json"
	}

	if len(tc.Browsers) == 0 {
		tc.Browsers = []string{"chromium", "firefox", "webkit"}
	}
}

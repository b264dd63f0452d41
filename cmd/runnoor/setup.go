package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/e2elab/runnoor/pkg/config"
	"github.com/e2elab/runnoor/pkg/fsutil"
	"github.com/e2elab/runnoor/pkg/pwconfig"
)

var setupForce bool

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Generate or patch the Playwright configuration",
	Long: `Setup aligns the project's playwright.config.ts with the managed
settings: test directory, output directory, JSON reporter, video and
screenshot capture, and browser projects. An existing hand-edited config
is patched in place; a missing one is generated from the template.`,
	RunE: setupProject,
}

func init() {
	rootCmd.AddCommand(setupCmd)
	setupCmd.Flags().BoolVar(&setupForce, "force", false,
		"overwrite an existing config with the generated template")
}

func setupProject(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	path := cfg.ConfigFilePath()

	if setupForce {
		return writeTemplate(cfg, path)
	}

	err = pwconfig.PatchFile(path, managedPatch(cfg))
	if errors.Is(err, pwconfig.ErrConfigNotFound) {
		log.Info("No Playwright config found, generating one")

		return writeTemplate(cfg, path)
	}

	if err != nil {
		return err
	}

	log.WithField("config", path).Info("Playwright config patched")

	return nil
}

// managedPatch builds the patch for the settings the orchestrator owns.
// User-owned fields in the config file are left untouched.
func managedPatch(cfg *config.Config) *pwconfig.Patch {
	p := &pwconfig.Patch{
		TestDir:   &cfg.Project.TestDir,
		OutputDir: &cfg.Project.OutputDir,
		Reporters: []pwconfig.Reporter{
			{Name: "list"},
			{Name: "json", OutputFile: "report.json"},
		},
	}

	if cfg.Runner.Workers > 0 {
		p.Workers = &cfg.Runner.Workers
	}

	if cfg.Runner.Retries > 0 {
		p.Retries = &cfg.Runner.Retries
	}

	if cfg.Runner.TimeoutMS > 0 {
		p.TimeoutMS = &cfg.Runner.TimeoutMS
	}

	if cfg.Project.BaseURL != "" {
		p.BaseURL = &cfg.Project.BaseURL
	}

	return p
}

func writeTemplate(cfg *config.Config, path string) error {
	content, err := pwconfig.RenderTemplate(pwconfig.TemplateConfig{
		TestDir:   cfg.Project.TestDir,
		OutputDir: cfg.Project.OutputDir,
		TimeoutMS: cfg.Runner.TimeoutMS,
		Retries:   cfg.Runner.Retries,
		Workers:   cfg.Runner.Workers,
		BaseURL:   cfg.Project.BaseURL,
	})
	if err != nil {
		return err
	}

	if err := fsutil.WriteFileAtomic(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	log.WithField("config", path).Info("Playwright config generated")

	return nil
}

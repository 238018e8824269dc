package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"git.home.luguber.info/inful/docfleet/internal/config"
	"git.home.luguber.info/inful/docfleet/internal/git"
	"git.home.luguber.info/inful/docfleet/internal/model"
	"git.home.luguber.info/inful/docfleet/internal/proc"
	"git.home.luguber.info/inful/docfleet/internal/provision"
)

// BuildCmd runs the pipeline once against a repository URL without touching
// the daemon's database or artifact tree. Useful for trying a repo out before
// registering it.
type BuildCmd struct {
	URL        string `arg:"" help:"Repository clone URL"`
	Ref        string `short:"r" default:"main" help:"Ref to build"`
	Tag        bool   `help:"Treat the ref as a tag instead of a branch"`
	DocsPath   string `default:"docs" help:"Sphinx source directory inside the repository"`
	EnvManager string `help:"Environment manager override (uv or pyenv)"`
	Output     string `short:"o" default:"./site" help:"Directory receiving the generated HTML"`
	Token      string `env:"DOCFLEET_BUILD_TOKEN" help:"Access token for private repositories"`
}

func (c *BuildCmd) Run(cfg *config.Settings) error {
	manager := model.EnvManager(cfg.EnvManager)
	if c.EnvManager != "" {
		manager = model.EnvManager(c.EnvManager)
		if manager != model.EnvManagerUV && manager != model.EnvManagerPyenv {
			return fmt.Errorf("env manager must be uv or pyenv, got %q", c.EnvManager)
		}
	}
	kind := model.RefBranch
	if c.Tag {
		kind = model.RefTag
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workDir, err := os.MkdirTemp("", "docfleet-build-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(workDir)
	srcDir := filepath.Join(workDir, "src")
	envDir := filepath.Join(workDir, "env")

	auth := git.Auth{}
	if c.Token != "" {
		auth = git.Auth{Kind: model.AuthToken, Token: c.Token}
	}
	driver := git.NewDriver(cfg.GitTimeout, auth)
	driver.Log = os.Stderr

	if _, err := driver.Clone(ctx, c.URL, srcDir); err != nil {
		return fmt.Errorf("clone: %w", err)
	}
	commit, err := driver.Checkout(ctx, srcDir, kind, c.Ref)
	if err != nil {
		return fmt.Errorf("checkout %s: %w", c.Ref, err)
	}
	fmt.Fprintf(os.Stderr, "building %s at %s\n", c.Ref, commit)

	prov := &provision.Provisioner{
		Runner:        proc.ExecRunner{},
		Timeout:       cfg.SphinxTimeout,
		DefaultPython: cfg.PythonVersion,
		ExtraAllow:    cfg.Extras,
	}
	binDir, err := prov.Provision(ctx, manager, srcDir, envDir, os.Stderr)
	if err != nil {
		return err
	}

	docsDir := filepath.Join(srcDir, c.DocsPath)
	if _, err := os.Stat(docsDir); err != nil {
		return fmt.Errorf("docs path %s missing: %w", c.DocsPath, err)
	}
	runner := proc.ExecRunner{}
	err = runner.Run(ctx, proc.Spec{
		Argv:    []string{filepath.Join(binDir, "sphinx-build"), "-b", "html", docsDir, c.Output},
		Timeout: cfg.SphinxTimeout,
		Output:  os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("sphinx-build: %w", err)
	}
	fmt.Printf("built %s\n", c.Output)
	return nil
}

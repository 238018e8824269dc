// Package provision creates the per-build Python environment: a fresh venv
// in the workspace's env/ directory populated with sphinx, the project itself,
// and its documentation extras. Two backends exist behind one entry point: uv
// for fast resolver installs and pyenv for interpreter-pinned installs.
package provision

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"git.home.luguber.info/inful/docfleet/internal/manifest"
	"git.home.luguber.info/inful/docfleet/internal/model"
	"git.home.luguber.info/inful/docfleet/internal/proc"
)

// defaultExtras are the extras names installed whenever the manifest declares
// them, before any operator additions.
var defaultExtras = []string{"dev", "docs"}

// requirementsCandidates are checked in order when no manifest is present.
var requirementsCandidates = []string{
	"requirements.txt",
	filepath.Join("docs", "requirements.txt"),
	filepath.Join("docs", "requirements-docs.txt"),
}

// Error wraps any provisioning failure; the pipeline maps it to the
// env_provision_failed kind.
type Error struct {
	Backend model.EnvManager
	Err     error
}

func (e *Error) Error() string { return fmt.Sprintf("%s provisioning failed: %v", e.Backend, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Provisioner builds environments. One instance serves all builds; every call
// gets its own directories and log writer.
type Provisioner struct {
	Runner proc.Runner
	// Timeout bounds each child-process invocation. Zero means no deadline.
	Timeout time.Duration
	// DefaultPython is the pyenv fallback when neither the manifest nor a
	// .python-version file pins an interpreter.
	DefaultPython string
	// ExtraAllow extends the {dev, docs} extras allowlist.
	ExtraAllow []string
}

// Provision creates envDir for the checkout at srcDir using the requested
// backend and returns the environment's bin directory.
func (p *Provisioner) Provision(ctx context.Context, backend model.EnvManager, srcDir, envDir string, log io.Writer) (string, error) {
	m, err := manifest.Load(srcDir)
	if err != nil {
		return "", &Error{Backend: backend, Err: fmt.Errorf("read manifest: %w", err)}
	}
	installArgs := p.installSet(srcDir, m)

	var binDir string
	switch backend {
	case model.EnvManagerUV:
		binDir, err = p.provisionUV(ctx, srcDir, envDir, installArgs, log)
	case model.EnvManagerPyenv:
		binDir, err = p.provisionPyenv(ctx, srcDir, envDir, installArgs, m, log)
	default:
		err = fmt.Errorf("unknown environment manager %q", backend)
	}
	if err != nil {
		return "", &Error{Backend: backend, Err: err}
	}
	return binDir, nil
}

// provisionUV creates the venv and installs the whole set in one resolver
// invocation.
func (p *Provisioner) provisionUV(ctx context.Context, srcDir, envDir string, installArgs []string, log io.Writer) (string, error) {
	if err := p.run(ctx, srcDir, nil, log, "uv", "venv", envDir); err != nil {
		return "", err
	}
	binDir := filepath.Join(envDir, "bin")
	argv := append([]string{"uv", "pip", "install", "--python", filepath.Join(binDir, "python")}, installArgs...)
	if err := p.run(ctx, srcDir, nil, log, argv...); err != nil {
		return "", err
	}
	return binDir, nil
}

// provisionPyenv pins an interpreter, creates a conventional venv with it,
// and installs via that venv's pip.
func (p *Provisioner) provisionPyenv(ctx context.Context, srcDir, envDir string, installArgs []string, m *manifest.Manifest, log io.Writer) (string, error) {
	version, err := p.resolvePython(srcDir, m)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(log, "using python %s\n", version)
	if err := p.run(ctx, srcDir, nil, log, "pyenv", "install", "-s", version); err != nil {
		return "", err
	}
	env := []string{"PYENV_VERSION=" + version}
	if err := p.run(ctx, srcDir, env, log, "pyenv", "exec", "python", "-m", "venv", envDir); err != nil {
		return "", err
	}
	binDir := filepath.Join(envDir, "bin")
	argv := append([]string{filepath.Join(binDir, "python"), "-m", "pip", "install"}, installArgs...)
	if err := p.run(ctx, srcDir, nil, log, argv...); err != nil {
		return "", err
	}
	return binDir, nil
}

// resolvePython picks the interpreter version for the pyenv backend: manifest
// constraint first, then a .python-version file, then the configured default.
func (p *Provisioner) resolvePython(srcDir string, m *manifest.Manifest) (string, error) {
	if m != nil {
		if v := manifest.ConcretePythonVersion(m.RequiresPython()); v != "" {
			return v, nil
		}
	}
	if data, err := os.ReadFile(filepath.Join(srcDir, ".python-version")); err == nil {
		first, _, _ := strings.Cut(strings.TrimSpace(string(data)), "\n")
		if first = strings.TrimSpace(first); first != "" {
			return first, nil
		}
	}
	if p.DefaultPython != "" {
		return p.DefaultPython, nil
	}
	return "", fmt.Errorf("no python version: manifest, .python-version and configured default are all empty")
}

// installSet assembles the installer arguments: sphinx, the project with its
// allowed extras, translated Poetry group dependencies, and — with no
// manifest — any conventional requirements file found in the checkout.
func (p *Provisioner) installSet(srcDir string, m *manifest.Manifest) []string {
	args := []string{"sphinx"}
	if m == nil {
		for _, rel := range requirementsCandidates {
			if _, err := os.Stat(filepath.Join(srcDir, rel)); err == nil {
				args = append(args, "-r", rel)
			}
		}
		return args
	}

	allowed := p.allowedExtras()
	extras := Intersect(m.ExtrasNames(), allowed)
	spec := "."
	if len(extras) > 0 {
		spec = ".[" + strings.Join(extras, ",") + "]"
	}
	args = append(args, spec)
	args = append(args, m.GroupRequirements(allowed)...)
	return args
}

func (p *Provisioner) allowedExtras() []string {
	return append(append([]string{}, defaultExtras...), p.ExtraAllow...)
}

// Intersect returns the names present in both sets, compared
// case-insensitively, preserving the discovered spelling, sorted and deduped.
func Intersect(discovered, allowed []string) []string {
	want := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		want[strings.ToLower(a)] = struct{}{}
	}
	seen := make(map[string]struct{})
	var out []string
	for _, d := range discovered {
		if _, ok := want[strings.ToLower(d)]; !ok {
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func (p *Provisioner) run(ctx context.Context, dir string, env []string, log io.Writer, argv ...string) error {
	fmt.Fprintf(log, "$ %s\n", strings.Join(argv, " "))
	return p.Runner.Run(ctx, proc.Spec{
		Argv:    argv,
		Dir:     dir,
		Env:     env,
		Timeout: p.Timeout,
		Output:  log,
	})
}

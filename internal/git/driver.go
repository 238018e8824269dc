// Package git drives the git command-line client as child processes: clone,
// explicit ref fetch + detached checkout, and remote head lookup. Each
// invocation gets its own deadline and its own credential scope; all output
// is streamed verbatim into the caller's log writer.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"git.home.luguber.info/inful/docfleet/internal/model"
	"git.home.luguber.info/inful/docfleet/internal/proc"
)

// Driver executes git operations for one repository. Construct one per build
// (or per monitor probe) so auth material and the log writer stay scoped.
type Driver struct {
	Runner  proc.Runner
	Timeout time.Duration
	Auth    Auth
	// InsecureTLS disables certificate verification for this repository's
	// invocations only.
	InsecureTLS bool
	// KeyDir receives ephemeral deploy-key files; empty means os.TempDir.
	KeyDir string
	// Log receives command headers and child output. Nil discards.
	Log io.Writer
}

// NewDriver returns a Driver with the production runner.
func NewDriver(timeout time.Duration, auth Auth) *Driver {
	return &Driver{Runner: proc.ExecRunner{}, Timeout: timeout, Auth: auth}
}

// Clone clones the repository's default branch into dest and returns the
// commit at its head. A generic command failure is retried once; auth,
// missing-ref and timeout failures are not.
func (d *Driver) Clone(ctx context.Context, url, dest string) (string, error) {
	scope, err := d.newAuthScope()
	if err != nil {
		return "", err
	}
	defer scope.Close()

	err = d.run(ctx, "clone", url, "", scope, "git", "clone", url, dest)
	if err != nil {
		var cmdErr *CommandError
		if !errors.As(err, &cmdErr) {
			return "", err
		}
		d.logf("retrying clone after error: %v", err)
		os.RemoveAll(dest)
		if err = d.run(ctx, "clone", url, "", scope, "git", "clone", url, dest); err != nil {
			return "", err
		}
	}
	return d.revParse(ctx, dest, "HEAD")
}

// Checkout fetches the tracked ref explicitly and checks out a detached head
// at the resolved commit, returning it.
func (d *Driver) Checkout(ctx context.Context, dir string, kind model.RefKind, name string) (string, error) {
	scope, err := d.newAuthScope()
	if err != nil {
		return "", err
	}
	defer scope.Close()

	refspec := kind.Refspec(name)
	if err := d.run(ctx, "fetch", dir, refspec, scope, "git", "-C", dir, "fetch", "--force", "origin", refspec); err != nil {
		return "", err
	}
	if err := d.run(ctx, "checkout", dir, refspec, scope, "git", "-C", dir, "checkout", "--force", "--detach", "FETCH_HEAD"); err != nil {
		return "", err
	}
	return d.revParse(ctx, dir, "HEAD")
}

// RemoteHead resolves the commit a remote ref points at without touching any
// working tree. Annotated tags resolve to the peeled commit so the result
// matches what a checkout of that tag records.
func (d *Driver) RemoteHead(ctx context.Context, url string, kind model.RefKind, name string) (string, error) {
	scope, err := d.newAuthScope()
	if err != nil {
		return "", err
	}
	defer scope.Close()

	refspec := kind.Refspec(name)
	var out bytes.Buffer
	d.logf("$ git ls-remote %s %s", url, refspec)
	runErr := d.Runner.Run(ctx, proc.Spec{
		Argv:    []string{"git", "ls-remote", url, refspec},
		Env:     d.env(scope),
		Timeout: d.Timeout,
		Output:  &out,
	})
	if runErr != nil {
		d.logf("%s", out.String())
		return "", classify("ls-remote", url, refspec, runErr, out.String())
	}

	sha := pickRemoteHead(out.String(), refspec)
	if sha == "" {
		return "", &RefNotFoundError{Op: "ls-remote", Ref: refspec}
	}
	d.logf("%s\t%s", sha, refspec)
	return sha, nil
}

// pickRemoteHead parses ls-remote output, preferring the peeled (^{}) line
// for annotated tags.
func pickRemoteHead(output, refspec string) string {
	var plain, peeled string
	for _, line := range strings.Split(output, "\n") {
		sha, ref, ok := strings.Cut(strings.TrimSpace(line), "\t")
		if !ok {
			continue
		}
		switch ref {
		case refspec:
			plain = sha
		case refspec + "^{}":
			peeled = sha
		}
	}
	if peeled != "" {
		return peeled
	}
	return plain
}

// run executes one git invocation with output teed to the log and a bounded
// tail kept for error classification. ref is only used in error reporting.
func (d *Driver) run(ctx context.Context, op, url, ref string, scope *authScope, argv ...string) error {
	d.logf("$ %s", strings.Join(argv, " "))
	tail := newTailBuffer(4096)
	err := d.Runner.Run(ctx, proc.Spec{
		Argv:    argv,
		Env:     d.env(scope),
		Timeout: d.Timeout,
		Output:  io.MultiWriter(d.logWriter(), tail),
	})
	return classify(op, url, ref, err, tail.String())
}

func (d *Driver) revParse(ctx context.Context, dir, rev string) (string, error) {
	var out bytes.Buffer
	d.logf("$ git rev-parse %s", rev)
	err := d.Runner.Run(ctx, proc.Spec{
		Argv:    []string{"git", "-C", dir, "rev-parse", rev},
		Timeout: d.Timeout,
		Output:  &out,
	})
	if err != nil {
		return "", classify("rev-parse", dir, rev, err, out.String())
	}
	sha := strings.TrimSpace(out.String())
	if sha == "" {
		return "", &CommandError{Op: "rev-parse", URL: dir, Err: fmt.Errorf("empty output")}
	}
	d.logf("%s", sha)
	return sha, nil
}

// env assembles the child environment: credential scope entries, the TLS
// override, and a guard against interactive credential prompts.
func (d *Driver) env(scope *authScope) []string {
	env := append([]string{"GIT_TERMINAL_PROMPT=0"}, scope.env...)
	if d.InsecureTLS {
		env = append(env, "GIT_SSL_NO_VERIFY=true")
	}
	return env
}

func (d *Driver) logWriter() io.Writer {
	if d.Log == nil {
		return io.Discard
	}
	return d.Log
}

func (d *Driver) logf(format string, args ...any) {
	fmt.Fprintf(d.logWriter(), format+"\n", args...)
}

// tailBuffer keeps the last capacity bytes written through it.
type tailBuffer struct {
	buf []byte
	cap int
}

func newTailBuffer(capacity int) *tailBuffer {
	return &tailBuffer{cap: capacity}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.cap {
		t.buf = t.buf[len(t.buf)-t.cap:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string { return string(t.buf) }

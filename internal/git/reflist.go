package git

import (
	"context"
	"fmt"
	"sort"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"github.com/go-git/go-git/v5/storage/memory"

	"git.home.luguber.info/inful/docfleet/internal/model"
)

// ListRemoteRefs returns the sorted short names of a remote's branches or
// tags without creating a working tree. Serves the admin surface's ref
// pickers; builds never call it.
func ListRemoteRefs(ctx context.Context, url string, kind model.RefKind, auth Auth, insecureTLS bool) ([]string, error) {
	remote := gogit.NewRemote(memory.NewStorage(), &gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{url},
	})
	method, err := transportAuth(auth)
	if err != nil {
		return nil, err
	}
	refs, err := remote.ListContext(ctx, &gogit.ListOptions{
		Auth:            method,
		InsecureSkipTLS: insecureTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("list remote refs for %s: %w", url, err)
	}

	prefix := "refs/heads/"
	if kind == model.RefTag {
		prefix = "refs/tags/"
	}
	set := make(map[string]struct{})
	for _, ref := range refs {
		if ref.Type() == plumbing.SymbolicReference {
			continue
		}
		name := ref.Name().String()
		name = strings.TrimSuffix(name, "^{}")
		if strings.HasPrefix(name, prefix) {
			set[strings.TrimPrefix(name, prefix)] = struct{}{}
		}
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// transportAuth converts driver material into a go-git transport method.
// Nil lets go-git fall back to its defaults (anonymous HTTP, the SSH agent).
func transportAuth(a Auth) (transport.AuthMethod, error) {
	switch a.Kind {
	case "", model.AuthNone, model.AuthSSHAgent:
		return nil, nil
	case model.AuthToken:
		if a.Token == "" {
			return nil, &AuthError{Op: "list", Err: fmt.Errorf("token material is empty")}
		}
		return &githttp.BasicAuth{Username: "token", Password: a.Token}, nil
	case model.AuthSSHKey:
		if len(a.PrivateKey) == 0 {
			return nil, &AuthError{Op: "list", Err: fmt.Errorf("deploy key material is empty")}
		}
		keys, err := gitssh.NewPublicKeys("git", a.PrivateKey, "")
		if err != nil {
			return nil, &AuthError{Op: "list", Err: err}
		}
		return keys, nil
	}
	return nil, &AuthError{Op: "list", Err: fmt.Errorf("unknown auth kind %q", a.Kind)}
}

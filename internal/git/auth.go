package git

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/docfleet/internal/model"
)

// Auth is the access material for one repository.
type Auth struct {
	Kind  model.AuthKind
	Token string
	// PrivateKey is the PEM deploy key for model.AuthSSHKey.
	PrivateKey []byte
}

// AuthFor extracts the driver material from a repository row.
func AuthFor(repo *model.Repository) Auth {
	return Auth{Kind: repo.AuthKind, Token: repo.Token, PrivateKey: []byte(repo.DeployKey)}
}

// authScope holds per-invocation credential state: environment entries for
// the child process and an ephemeral key file removed when the scope closes.
type authScope struct {
	env     []string
	keyPath string
}

func (s *authScope) Close() {
	if s.keyPath != "" {
		os.Remove(s.keyPath)
	}
}

// newAuthScope materializes the material for one child-process invocation.
// Tokens travel as one-shot git config environment entries so they reach
// neither argv nor the clone's remote config; deploy keys become a 0600 file
// wired through GIT_SSH_COMMAND and deleted on Close.
func (d *Driver) newAuthScope() (*authScope, error) {
	switch d.Auth.Kind {
	case "", model.AuthNone, model.AuthSSHAgent:
		return &authScope{}, nil

	case model.AuthToken:
		if d.Auth.Token == "" {
			return nil, &AuthError{Op: "auth", Err: fmt.Errorf("token material is empty")}
		}
		cred := base64.StdEncoding.EncodeToString([]byte("token:" + d.Auth.Token))
		return &authScope{env: []string{
			"GIT_CONFIG_COUNT=1",
			"GIT_CONFIG_KEY_0=http.extraHeader",
			"GIT_CONFIG_VALUE_0=AUTHORIZATION: basic " + cred,
		}}, nil

	case model.AuthSSHKey:
		if len(d.Auth.PrivateKey) == 0 {
			return nil, &AuthError{Op: "auth", Err: fmt.Errorf("deploy key material is empty")}
		}
		dir := d.KeyDir
		if dir == "" {
			dir = os.TempDir()
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, &AuthError{Op: "auth", Err: fmt.Errorf("prepare key dir: %w", err)}
		}
		name := "deploy_" + strings.ReplaceAll(uuid.NewString(), "-", "")
		keyPath := filepath.Join(dir, name)
		key := d.Auth.PrivateKey
		if len(key) > 0 && key[len(key)-1] != '\n' {
			key = append(append([]byte{}, key...), '\n')
		}
		if err := os.WriteFile(keyPath, key, 0o600); err != nil {
			return nil, &AuthError{Op: "auth", Err: fmt.Errorf("write deploy key: %w", err)}
		}
		sshCmd := fmt.Sprintf("ssh -i %q -o IdentitiesOnly=yes -o StrictHostKeyChecking=no", keyPath)
		return &authScope{
			env:     []string{"GIT_SSH_COMMAND=" + sshCmd},
			keyPath: keyPath,
		}, nil
	}
	return nil, &AuthError{Op: "auth", Err: fmt.Errorf("unknown auth kind %q", d.Auth.Kind)}
}

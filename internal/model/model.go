// Package model holds the persistent domain types shared by the store,
// the build pipeline, and the HTTP surface.
package model

import "time"

// RefKind is the kind of git reference a target tracks.
type RefKind string

const (
	RefBranch RefKind = "branch"
	RefTag    RefKind = "tag"
)

// Refspec returns the full remote refspec for a ref of this kind.
func (k RefKind) Refspec(name string) string {
	if k == RefTag {
		return "refs/tags/" + name
	}
	return "refs/heads/" + name
}

// AuthKind selects how the git driver authenticates against the remote.
type AuthKind string

const (
	AuthNone     AuthKind = "none"
	AuthToken    AuthKind = "token"
	AuthSSHAgent AuthKind = "ssh_agent"
	AuthSSHKey   AuthKind = "ssh_key"
)

// EnvManager selects the environment provisioning backend.
type EnvManager string

const (
	// EnvManagerInherit means the target follows the configured default.
	EnvManagerInherit EnvManager = ""
	EnvManagerUV      EnvManager = "uv"
	EnvManagerPyenv   EnvManager = "pyenv"
)

// BuildStatus is the lifecycle state of a build job.
type BuildStatus string

const (
	BuildQueued    BuildStatus = "queued"
	BuildRunning   BuildStatus = "running"
	BuildSucceeded BuildStatus = "succeeded"
	BuildFailed    BuildStatus = "failed"
	BuildCancelled BuildStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s BuildStatus) Terminal() bool {
	switch s {
	case BuildSucceeded, BuildFailed, BuildCancelled:
		return true
	}
	return false
}

// BuildTrigger records what caused a build to be enqueued.
type BuildTrigger string

const (
	TriggerManual BuildTrigger = "manual"
	TriggerAuto   BuildTrigger = "auto"
)

// ErrorKind classifies a failed build for the job row and the log.
type ErrorKind string

const (
	ErrKindNone          ErrorKind = ""
	ErrKindAuthInvalid   ErrorKind = "auth_material_invalid"
	ErrKindRefNotFound   ErrorKind = "ref_not_found"
	ErrKindGitTimeout    ErrorKind = "git_timeout"
	ErrKindProvision     ErrorKind = "env_provision_failed"
	ErrKindDocBuild      ErrorKind = "doc_build_failed"
	ErrKindPublish       ErrorKind = "publish_failed"
	ErrKindInterrupted   ErrorKind = "interrupted_at_startup"
	ErrKindInternal      ErrorKind = "internal"
)

// Repository is a registered source of documentation builds.
type Repository struct {
	ID        int64    `json:"id"`
	Name      string   `json:"name"`
	Provider  string   `json:"provider"`
	URL       string   `json:"url"`
	DocsPath  string   `json:"docs_path"`
	AuthKind  AuthKind `json:"auth_kind"`
	Token     string   `json:"-"`
	DeployKey string   `json:"-"`
	VerifyTLS bool     `json:"verify_tls"`
	Public    bool     `json:"public"`

	// MainTargetID designates the target whose successful builds refresh
	// the project metadata below.
	MainTargetID *int64 `json:"main_target_id,omitempty"`

	ProjectName     string `json:"project_name,omitempty"`
	ProjectVersion  string `json:"project_version,omitempty"`
	ProjectSummary  string `json:"project_summary,omitempty"`
	ProjectHomepage string `json:"project_homepage,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Target is a tracked (repository, ref) pair, the unit of build scheduling.
type Target struct {
	ID           int64      `json:"id"`
	RepositoryID int64      `json:"repository_id"`
	RefKind      RefKind    `json:"ref_type"`
	RefName      string     `json:"ref_name"`
	AutoBuild    bool       `json:"auto_build"`
	EnvManager   EnvManager `json:"env_manager,omitempty"`

	LastBuiltCommit string `json:"last_built_commit,omitempty"`
	// LatestBuildID points at the most recent succeeded build whose
	// artifact is on disk, or is nil.
	LatestBuildID *int64 `json:"latest_build_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Slug returns the stable path component for the target's artifacts.
func (t *Target) Slug() string {
	return TargetSlug(t.RefKind, t.RefName)
}

// Build is one job driving a target from queued to a terminal state.
type Build struct {
	ID           int64        `json:"id"`
	RepositoryID int64        `json:"repository_id"`
	TargetID     int64        `json:"target_id"`
	Status       BuildStatus  `json:"status"`
	Trigger      BuildTrigger `json:"trigger"`
	RefName      string       `json:"ref_name"`

	// EnvManager is resolved from the target row at dispatch time and
	// recorded here so the executor never re-reads a changed override.
	EnvManager EnvManager `json:"env_manager,omitempty"`

	Commit        string    `json:"commit,omitempty"`
	ErrorKind     ErrorKind `json:"error_kind,omitempty"`
	LogPath       string    `json:"log_path,omitempty"`
	ArtifactPath  string    `json:"artifact_path,omitempty"`
	WorkspacePath string    `json:"workspace_path,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	DurationS  float64    `json:"duration_s,omitempty"`
}

// Active reports whether the build still occupies its target (queued or
// running builds suppress monitor enqueues).
func (b *Build) Active() bool { return !b.Status.Terminal() }

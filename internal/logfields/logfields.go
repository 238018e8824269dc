package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyBuildID   = "build_id"
	KeyRepoID    = "repository_id"
	KeyRepo      = "repository"
	KeyTargetID  = "target_id"
	KeyRef       = "ref"
	KeyRefKind   = "ref_kind"
	KeyStage     = "stage"
	KeyTrigger   = "trigger"
	KeyStatus    = "status"
	KeyCommit    = "commit"
	KeyErrorKind = "error_kind"
	KeyDurationS = "duration_s"
	KeyWorker    = "worker"
	KeyError     = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func BuildID(id int64) slog.Attr       { return slog.Int64(KeyBuildID, id) }
func RepoID(id int64) slog.Attr        { return slog.Int64(KeyRepoID, id) }
func Repository(name string) slog.Attr { return slog.String(KeyRepo, name) }
func TargetID(id int64) slog.Attr      { return slog.Int64(KeyTargetID, id) }
func Ref(name string) slog.Attr        { return slog.String(KeyRef, name) }
func RefKind(k string) slog.Attr       { return slog.String(KeyRefKind, k) }
func Stage(name string) slog.Attr      { return slog.String(KeyStage, name) }
func Trigger(t string) slog.Attr       { return slog.String(KeyTrigger, t) }
func Status(s string) slog.Attr        { return slog.String(KeyStatus, s) }
func Commit(sha string) slog.Attr      { return slog.String(KeyCommit, sha) }
func ErrorKind(k string) slog.Attr     { return slog.String(KeyErrorKind, k) }
func DurationS(s float64) slog.Attr    { return slog.Float64(KeyDurationS, s) }
func Worker(n int) slog.Attr           { return slog.Int(KeyWorker, n) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}

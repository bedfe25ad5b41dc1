// Package logfields centralizes canonical slog field names so they do not
// drift across packages.
package logfields

import "log/slog"

const (
	KeyCommand    = "command"
	KeyAction     = "action"
	KeyBuildID    = "build_id"
	KeyRepo       = "repository"
	KeyBranch     = "branch"
	KeyCommit     = "commit"
	KeyPath       = "path"
	KeyTarget     = "target"
	KeyURL        = "url"
	KeyDurationMS = "duration_ms"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Command(name string) slog.Attr    { return slog.String(KeyCommand, name) }
func Action(name string) slog.Attr     { return slog.String(KeyAction, name) }
func BuildID(id string) slog.Attr      { return slog.String(KeyBuildID, id) }
func Repository(name string) slog.Attr { return slog.String(KeyRepo, name) }
func Branch(name string) slog.Attr     { return slog.String(KeyBranch, name) }
func Commit(hash string) slog.Attr     { return slog.String(KeyCommit, hash) }
func Path(p string) slog.Attr          { return slog.String(KeyPath, p) }
func Target(p string) slog.Attr        { return slog.String(KeyTarget, p) }
func URL(u string) slog.Attr           { return slog.String(KeyURL, u) }
func DurationMS(ms float64) slog.Attr  { return slog.Float64(KeyDurationMS, ms) }

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}

package gitsync

import (
	"errors"
	"fmt"
)

// ErrNoRepository reports that a path holds no working copy at all. This is
// a normal, non-error-like outcome for identity reads on fresh targets;
// callers decide whether it matters.
var ErrNoRepository = errors.New("no repository present")

// RepoStateError reports a working copy that exists but whose metadata
// cannot be parsed: unreadable HEAD, missing commit, unusable remotes.
// Downstream logic cannot safely proceed without valid identity, so this is
// never suppressed.
type RepoStateError struct {
	Path   string
	Reason string
	Err    error
}

func (e *RepoStateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("repository %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("repository %s: %s", e.Path, e.Reason)
}

func (e *RepoStateError) Unwrap() error { return e.Err }

func stateErr(path, reason string, err error) error {
	return &RepoStateError{Path: path, Reason: reason, Err: err}
}

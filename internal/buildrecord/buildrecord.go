// Package buildrecord persists the ledger mapping "{repo}#{branch}" to the
// last commit built into a target directory. The ledger is what makes
// multi-branch builds incremental: a downstream consumer that already holds
// the latest source commit can skip the build entirely.
package buildrecord

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/sitepress/internal/gitsync"
)

// FileName is the fixed ledger filename under a target directory.
const FileName = ".sitepress-builds.json"

// Read loads the ledger for targetDir. A missing file is an empty map, not
// an error; a malformed one is an error.
func Read(targetDir string) (map[string]string, error) {
	data, err := os.ReadFile(filepath.Join(targetDir, FileName))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read build record: %w", err)
	}
	records := map[string]string{}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse build record %s: %w", FileName, err)
	}
	return records, nil
}

// Write merges the identity's "{repo}#{branch}" -> short hash entry into the
// existing ledger and persists it. Other keys are untouched; a key is only
// ever overwritten for its exact repo#branch pair. The write is atomic
// (temp file + rename).
func Write(targetDir string, id gitsync.Identity) error {
	records, err := Read(targetDir)
	if err != nil {
		return err
	}
	records[id.Key()] = id.ShortHash()

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal build record: %w", err)
	}
	path := filepath.Join(targetDir, FileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write build record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace build record: %w", err)
	}
	return nil
}

// For returns the recorded hash for the identity's repo#branch pair, and
// whether one exists.
func For(targetDir string, id gitsync.Identity) (string, bool, error) {
	records, err := Read(targetDir)
	if err != nil {
		return "", false, err
	}
	hash, ok := records[id.Key()]
	return hash, ok, nil
}

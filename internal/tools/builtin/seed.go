// Package builtin embeds the default skill-file bodies shipped with the
// gatewayd binary, so a fresh install has a couple of working tools before
// any user-authored skill file is ever dropped into the tool directory.
package builtin

import (
	"embed"
	"os"
	"path/filepath"

	. "github.com/chatgate/chatgate/internal/logging"
)

//go:embed skills/*.skill
var defaultSkills embed.FS

// Seed writes every embedded default skill-file into dir, skipping any name
// that already exists there so a user's edited copy is never clobbered. The
// Watcher's own LoadAll picks up whatever Seed writes on the next boot pass.
func Seed(dir string) error {
	entries, err := defaultSkills.ReadDir("skills")
	if err != nil {
		return err
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		dst := filepath.Join(dir, e.Name())
		if _, err := os.Stat(dst); err == nil {
			continue
		}

		data, err := defaultSkills.ReadFile(filepath.Join("skills", e.Name()))
		if err != nil {
			return err
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return err
		}
		L_info("builtin: seeded default skill-file", "name", e.Name())
	}
	return nil
}

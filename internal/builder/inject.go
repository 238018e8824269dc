package builder

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"git.home.luguber.info/inful/docfleet/internal/model"
)

// navMarker guards against double injection; every generated page carries it
// after the splice.
const navMarker = "__DOCFLEET_NAV"

// NavParams parameterize the injected version-selector script.
type NavParams struct {
	RepoID  int64
	Slug    string
	RefKind model.RefKind
	RefName string
	Version string
	BuiltAt time.Time
}

// script renders the inline block: globals for the serving layer's nav.js,
// then the deferred loader. The serving layer exposes /assets/nav.js and
// /<repo-id>/refs.json.
func (p NavParams) script() string {
	assign := func(key string, value any) string {
		data, _ := json.Marshal(value)
		return fmt.Sprintf("window.%s_%s=%s", navMarker, key, data)
	}
	globals := strings.Join([]string{
		"window." + navMarker + "=1",
		assign("REPO", p.RepoID),
		assign("TARGET", p.Slug),
		assign("REF_TYPE", string(p.RefKind)),
		assign("REF_NAME", p.RefName),
		assign("VERSION", p.Version),
		assign("BUILD_DATE", p.BuiltAt.UTC().Format(time.RFC3339)),
	}, ";")
	return "<script>" + globals + ";</script>\n" +
		"<script defer src=\"/assets/nav.js\"></script>\n"
}

// InjectNavigation walks the artifact tree and splices the nav script into
// every HTML file immediately before its last closing body tag. Files without
// one, or already carrying the marker, are left untouched. Returns the number
// of files changed. This is the only post-generation transformation.
func InjectNavigation(outDir string, p NavParams) (int, error) {
	script := p.script()
	injected := 0
	err := filepath.WalkDir(outDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".html") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		content := string(data)
		if strings.Contains(content, navMarker) {
			return nil
		}
		idx := strings.LastIndex(strings.ToLower(content), "</body>")
		if idx < 0 {
			return nil
		}
		spliced := content[:idx] + script + content[idx:]
		if err := os.WriteFile(path, []byte(spliced), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		injected++
		return nil
	})
	return injected, err
}

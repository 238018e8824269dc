// Package manifest reads the Python project manifest (pyproject.toml) found
// at a checkout root: extras tables, interpreter constraints, and project
// metadata. It never installs anything itself.
package manifest

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// Filename is the manifest file looked up at the checkout root.
const Filename = "pyproject.toml"

type document struct {
	Project projectTable `toml:"project"`
	Tool    toolTable    `toml:"tool"`
}

type projectTable struct {
	Name                 string              `toml:"name"`
	Version              string              `toml:"version"`
	Description          string              `toml:"description"`
	RequiresPython       string              `toml:"requires-python"`
	URLs                 map[string]string   `toml:"urls"`
	OptionalDependencies map[string][]string `toml:"optional-dependencies"`
}

type toolTable struct {
	Poetry poetryTable `toml:"poetry"`
}

type poetryTable struct {
	Dependencies map[string]toml.Primitive `toml:"dependencies"`
	Extras       map[string][]string       `toml:"extras"`
	Group        map[string]poetryGroup    `toml:"group"`
}

type poetryGroup struct {
	Dependencies map[string]toml.Primitive `toml:"dependencies"`
}

// poetryDep is the table form of a Poetry dependency declaration.
type poetryDep struct {
	Version string   `toml:"version"`
	Extras  []string `toml:"extras"`
	Git     string   `toml:"git"`
	Rev     string   `toml:"rev"`
	Tag     string   `toml:"tag"`
	Branch  string   `toml:"branch"`
	Path    string   `toml:"path"`
}

// Metadata is the subset of project metadata propagated to the repository row.
type Metadata struct {
	Name     string
	Version  string
	Summary  string
	Homepage string
}

// Manifest is a parsed pyproject.toml.
type Manifest struct {
	doc document
	md  toml.MetaData
	dir string
}

// Load reads the manifest at the checkout root. A missing file returns
// (nil, nil); the caller falls back to requirements-file installs.
func Load(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, Filename))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return Parse(data, dir)
}

// Parse decodes manifest bytes. dir anchors relative path dependencies.
func Parse(data []byte, dir string) (*Manifest, error) {
	var doc document
	md, err := toml.Decode(string(data), &doc)
	if err != nil {
		return nil, err
	}
	return &Manifest{doc: doc, md: md, dir: dir}, nil
}

// Metadata returns the PEP 621 project metadata fields.
func (m *Manifest) Metadata() Metadata {
	home := m.doc.Project.URLs["Homepage"]
	if home == "" {
		home = m.doc.Project.URLs["homepage"]
	}
	return Metadata{
		Name:     m.doc.Project.Name,
		Version:  m.doc.Project.Version,
		Summary:  m.doc.Project.Description,
		Homepage: home,
	}
}

// ExtrasNames returns the union of extras names declared anywhere in the
// manifest: PEP 621 optional-dependencies keys, the Poetry extras table, and
// Poetry dependency group names (each group counts as one extras name).
// The result is sorted and deduplicated.
func (m *Manifest) ExtrasNames() []string {
	set := make(map[string]struct{})
	for name := range m.doc.Project.OptionalDependencies {
		set[name] = struct{}{}
	}
	for name := range m.doc.Tool.Poetry.Extras {
		set[name] = struct{}{}
	}
	for name := range m.doc.Tool.Poetry.Group {
		set[name] = struct{}{}
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RequiresPython returns the raw interpreter constraint: PEP 621
// requires-python first, the Poetry python dependency second.
func (m *Manifest) RequiresPython() string {
	if rp := strings.TrimSpace(m.doc.Project.RequiresPython); rp != "" {
		return rp
	}
	prim, ok := m.doc.Tool.Poetry.Dependencies["python"]
	if !ok {
		return ""
	}
	var s string
	if err := m.md.PrimitiveDecode(prim, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return ""
}

// GroupRequirements translates the dependency declarations of the named
// Poetry groups into pip requirement specs. Group name matching is
// case-insensitive; unsupported declarations are skipped.
func (m *Manifest) GroupRequirements(names []string) []string {
	if len(m.doc.Tool.Poetry.Group) == 0 || len(names) == 0 {
		return nil
	}
	wanted := make(map[string]struct{}, len(names))
	for _, n := range names {
		wanted[strings.ToLower(n)] = struct{}{}
	}
	groupNames := make([]string, 0, len(m.doc.Tool.Poetry.Group))
	for name := range m.doc.Tool.Poetry.Group {
		groupNames = append(groupNames, name)
	}
	sort.Strings(groupNames)

	var reqs []string
	for _, gname := range groupNames {
		if _, ok := wanted[strings.ToLower(gname)]; !ok {
			continue
		}
		group := m.doc.Tool.Poetry.Group[gname]
		depNames := make([]string, 0, len(group.Dependencies))
		for dep := range group.Dependencies {
			depNames = append(depNames, dep)
		}
		sort.Strings(depNames)
		for _, dep := range depNames {
			if req, ok := m.convertDependency(dep, group.Dependencies[dep]); ok {
				reqs = append(reqs, req)
			}
		}
	}
	return reqs
}

// convertDependency translates one Poetry dependency declaration (string or
// table form) into a pip requirement spec.
func (m *Manifest) convertDependency(name string, prim toml.Primitive) (string, bool) {
	var version string
	if err := m.md.PrimitiveDecode(prim, &version); err == nil {
		return name + TranslateConstraint(version), true
	}

	var dep poetryDep
	if err := m.md.PrimitiveDecode(prim, &dep); err != nil {
		return "", false
	}
	suffix := ""
	if len(dep.Extras) > 0 {
		suffix = "[" + strings.Join(dep.Extras, ",") + "]"
	}
	switch {
	case dep.Git != "":
		ref := dep.Rev
		if ref == "" {
			ref = dep.Tag
		}
		if ref == "" {
			ref = dep.Branch
		}
		req := name + suffix + " @ git+" + dep.Git
		if ref != "" {
			req += "@" + ref
		}
		return req, true
	case dep.Path != "":
		p := dep.Path
		if !filepath.IsAbs(p) {
			p = filepath.Join(m.dir, p)
		}
		return p, true
	case dep.Version != "" && dep.Version != "*":
		return name + suffix + TranslateConstraint(dep.Version), true
	default:
		return name + suffix, true
	}
}

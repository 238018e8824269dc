package manifest

import (
	"regexp"
	"strconv"
	"strings"
)

var versionRe = regexp.MustCompile(`\d+(\.\d+)*`)

// TranslateConstraint converts a Poetry version constraint into a pip
// specifier suffix, empty for wildcard constraints.
func TranslateConstraint(constraint string) string {
	spec := strings.TrimSpace(constraint)
	if spec == "" || spec == "*" {
		return ""
	}
	if strings.HasPrefix(spec, "^") {
		base := strings.TrimSpace(spec[1:])
		if base == "" {
			return ""
		}
		return ">=" + base + ",<" + caretUpperBound(base)
	}
	if strings.HasPrefix(spec, "~") {
		base := strings.TrimSpace(spec[1:])
		if base == "" {
			return ""
		}
		return "~=" + base
	}
	if strings.ContainsAny(spec[:1], "><=!~") || strings.Contains(spec, ",") {
		return spec
	}
	if spec[0] >= '0' && spec[0] <= '9' {
		return "==" + spec
	}
	return spec
}

// caretUpperBound computes the exclusive upper bound for a caret constraint:
// the leftmost non-zero component is incremented and everything after it
// zeroed.
func caretUpperBound(version string) string {
	parts := [3]int{}
	for i, p := range strings.SplitN(version, ".", 3) {
		if i >= 3 {
			break
		}
		digits := p
		for j, r := range p {
			if r < '0' || r > '9' {
				digits = p[:j]
				break
			}
		}
		if n, err := strconv.Atoi(digits); err == nil {
			parts[i] = n
		}
	}
	major, minor, patch := parts[0], parts[1], parts[2]
	switch {
	case major > 0:
		major, minor, patch = major+1, 0, 0
	case minor > 0:
		minor, patch = minor+1, 0
	default:
		patch++
	}
	return strconv.Itoa(major) + "." + strconv.Itoa(minor) + "." + strconv.Itoa(patch)
}

// ConcretePythonVersion picks an installable interpreter version out of a
// requires-python style constraint. Exact pins win over lower bounds, lower
// bounds over compatible-release forms. Empty when nothing usable remains.
func ConcretePythonVersion(constraint string) string {
	var exact, lower, compat, bare string
	for _, clause := range strings.Split(constraint, ",") {
		c := strings.TrimSpace(clause)
		if c == "" {
			continue
		}
		switch {
		case strings.HasPrefix(c, "=="):
			exact = versionRe.FindString(c)
		case strings.HasPrefix(c, ">="):
			lower = versionRe.FindString(c)
		case strings.HasPrefix(c, "~=") || strings.HasPrefix(c, "^") || strings.HasPrefix(c, "~"):
			compat = versionRe.FindString(c)
		case c[0] >= '0' && c[0] <= '9':
			bare = versionRe.FindString(c)
		}
	}
	for _, v := range []string{exact, lower, compat, bare} {
		if v != "" {
			return v
		}
	}
	return ""
}

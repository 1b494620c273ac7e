// Package appkey implements the fixed-at-startup mapping from a client's
// symbolic command name to an absolute executable path. An appkey table is
// the only mechanism by which a client can say what should run; there is
// no shell parsing, no variable expansion, and no shell involved at all.
package appkey

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Registry is an immutable name -> absolute path mapping, checked once at
// startup. A path that does not exist at load time is retained and only
// warned about; a lookup for an unknown name is a hard rejection.
type Registry struct {
	paths map[string]string
}

// Load builds a Registry from the given table and warns (without failing)
// about any entry whose path does not exist on disk, matching main.rs's
// startup check.
func Load(table map[string]string) *Registry {
	r := &Registry{paths: make(map[string]string, len(table))}
	for name, path := range table {
		r.paths[name] = path
		if _, err := os.Stat(path); err != nil {
			slog.Warn("appkey points to a non-existent file", "appkey", name, "path", path)
		} else {
			slog.Debug("registered appkey", "appkey", name, "path", path)
		}
	}
	return r
}

// Resolve splits cmdline on its first whitespace run. The first token is
// looked up in the registry; the bound absolute path and the verbatim
// remainder are returned. Resolve never interprets the remainder: no
// globbing, no quoting, no shell semantics.
func (r *Registry) Resolve(cmdline string) (path string, rest string, err error) {
	name, rest := splitFirstToken(cmdline)
	if name == "" {
		return "", "", fmt.Errorf("empty cmdline")
	}

	path, ok := r.paths[name]
	if !ok {
		return "", "", fmt.Errorf("unknown appkey %q", name)
	}
	return path, rest, nil
}

// splitFirstToken splits s on the first run of whitespace, returning the
// token and the (possibly empty) remainder with no leading whitespace.
func splitFirstToken(s string) (token, rest string) {
	s = strings.TrimLeft(s, " \t")
	idx := strings.IndexAny(s, " \t")
	if idx < 0 {
		return s, ""
	}
	return s[:idx], strings.TrimLeft(s[idx+1:], " \t")
}

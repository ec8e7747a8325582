package config

import (
	"os"
	"path/filepath"
	"strings"
)

// runtimeRoot is the directory relative runtime paths (the sqlite file, the
// log directory) are resolved against: the directory of the installed binary,
// or the working directory for binaries built into the temp dir by go run and
// go test.
func runtimeRoot() string {
	wd, _ := os.Getwd()
	exe, err := os.Executable()
	if err != nil || exe == "" {
		return orDefault(wd, ".")
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	dir := filepath.Dir(exe)
	if wd != "" && withinDir(dir, os.TempDir()) {
		return wd
	}
	return dir
}

func withinDir(path, dir string) bool {
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// ResolveRuntimePath returns raw, or fallback when raw is blank, as a clean
// absolute path under runtimeRoot unless it is absolute already.
func ResolveRuntimePath(raw, fallback string) string {
	target := orDefault(strings.TrimSpace(raw), strings.TrimSpace(fallback))
	if filepath.IsAbs(target) {
		return filepath.Clean(target)
	}
	return filepath.Join(runtimeRoot(), target)
}

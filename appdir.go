package xlsxreport

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

//go:embed default_templates/*.yaml
var defaultTemplates embed.FS

const appDirName = "XlsxReport"

// AppDir returns the user data directory where template files are stored.
// The directory is not created; use SetupAppDir for that.
func AppDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, appDirName), nil
}

// SetupAppDir creates the user data directory and copies the default
// template files into it, overwriting existing copies. It returns the
// directory path.
func SetupAppDir() (string, error) {
	dir, err := AppDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	entries, err := fs.ReadDir(defaultTemplates, "default_templates")
	if err != nil {
		return "", err
	}
	for _, entry := range entries {
		data, err := fs.ReadFile(defaultTemplates, filepath.ToSlash(filepath.Join("default_templates", entry.Name())))
		if err != nil {
			return "", err
		}
		if err := os.WriteFile(filepath.Join(dir, entry.Name()), data, 0o644); err != nil {
			return "", err
		}
	}
	return dir, nil
}

// TemplatePath resolves a template argument: an existing filesystem path is
// used as is, otherwise the app data directory is searched for a file with
// the given name, also with a ".yaml" extension appended.
func TemplatePath(name string) (string, error) {
	if _, err := os.Stat(name); err == nil {
		return name, nil
	}
	dir, err := AppDir()
	if err != nil {
		return "", err
	}
	for _, candidate := range []string{name, name + ".yaml"} {
		path := filepath.Join(dir, candidate)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("template %q not found, neither as a file nor in %s", name, dir)
}

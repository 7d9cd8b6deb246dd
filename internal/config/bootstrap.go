package config

import "os"

// EnsureConfigFile writes a default sidecar at path if nothing exists
// there yet. It never overwrites an existing file.
func EnsureConfigFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	return Save(path, Default())
}

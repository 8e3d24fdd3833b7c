package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths stores resolved runtime file locations for user config, logs, and cache.
type Paths struct {
	RootDir    string
	ConfigFile string
	EnvFile    string
	DBFile     string
	LogFile    string
	CacheDir   string
	UploadDir  string
}

func ResolvePaths() (Paths, error) {
	cfgRoot, err := os.UserConfigDir()
	if err != nil {
		return Paths{}, fmt.Errorf("resolve config dir: %w", err)
	}
	cacheRoot, err := os.UserCacheDir()
	if err != nil {
		return Paths{}, fmt.Errorf("resolve cache dir: %w", err)
	}

	return PathsUnder(filepath.Join(cfgRoot, Name), filepath.Join(cacheRoot, Name))
}

// PathsUnder lays the runtime files out below root and cache, creating the
// directories.
func PathsUnder(root, cache string) (Paths, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return Paths{}, fmt.Errorf("create app config dir: %w", err)
	}
	uploads := filepath.Join(cache, UploadSpoolDir)
	if err := os.MkdirAll(uploads, 0o750); err != nil {
		return Paths{}, fmt.Errorf("create upload spool dir: %w", err)
	}

	return Paths{
		RootDir:    root,
		ConfigFile: filepath.Join(root, ConfigFilename),
		EnvFile:    filepath.Join(root, EnvFilename),
		DBFile:     filepath.Join(root, DBFilename),
		LogFile:    filepath.Join(root, LogFilename),
		CacheDir:   cache,
		UploadDir:  uploads,
	}, nil
}

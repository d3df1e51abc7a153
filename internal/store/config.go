package store

import (
	"path/filepath"
	"time"

	"codeberg.org/teralab/teractl/internal/errors"
)

const (
	defaultDirPerm   = 0o755
	defaultBatchSize = 16
	defaultFlush     = 5 * time.Second
)

type Config struct {
	Path string
	// BatchSize is the number of atoms buffered before a write transaction.
	BatchSize int
	// FlushInterval bounds how long an atom may stay buffered.
	FlushInterval time.Duration
	// BackupDir receives a copy of the database before an incompatible
	// schema is replaced. Defaults to a backups directory next to Path.
	BackupDir string
}

func DefaultConfig(path string) Config {
	return Config{
		Path:          path,
		BatchSize:     defaultBatchSize,
		FlushInterval: defaultFlush,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.Path == "" {
		return errFactory.New(ErrInvalidPath)
	}
	if c.BatchSize < 1 || c.FlushInterval <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, c)
	}
	return nil
}

func (c Config) backupDir() string {
	if c.BackupDir != "" {
		return c.BackupDir
	}
	return filepath.Join(filepath.Dir(c.Path), "backups")
}

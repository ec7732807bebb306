package store

import (
	"fmt"

	"github.com/joshp123/melcloud/internal/config"
)

// Open builds the store selected by cfg.State, wrapping it in a Mirror when a
// blob mirror is configured.
func Open(cfg *config.Config, logger Logger) (Store, error) {
	var local Store
	switch cfg.State.Backend {
	case config.BackendMemory:
		local = NewMemory()
	case config.BackendSQLite:
		db, err := OpenSQLite(cfg.SQLitePath())
		if err != nil {
			return nil, err
		}
		local = db
	case config.BackendFile, "":
		file, err := NewFile(cfg.State.Dir)
		if err != nil {
			return nil, err
		}
		local = file
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.State.Backend)
	}

	if cfg.State.Blob == nil {
		return local, nil
	}
	remote, err := NewS3(cfg.State.Blob)
	if err != nil {
		return nil, err
	}
	return NewMirror(local, remote, logger), nil
}

package store

import (
	"context"
	"errors"
	"io"
)

// Logger is the subset of logging.Logger used by this package.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Mirror reads and writes a local store and keeps a remote copy in step.
//
// The local store is authoritative. A record missing locally is restored from
// the remote copy; remote write failures are logged and never fail a Save.
type Mirror struct {
	local  Store
	remote Store
	logger Logger
}

func NewMirror(local, remote Store, logger Logger) *Mirror {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Mirror{local: local, remote: remote, logger: logger}
}

func (m *Mirror) Load(ctx context.Context, key string) ([]byte, error) {
	data, localErr := m.local.Load(ctx, key)
	if localErr == nil {
		return data, nil
	}
	if !errors.Is(localErr, ErrNotFound) {
		return nil, localErr
	}

	data, err := m.remote.Load(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			remotePersistOK.WithLabelValues(key).Set(0)
			m.logger.Warn("remote state load failed", "key", key, "error", err)
		}
		return nil, ErrNotFound
	}
	if err := m.local.Save(ctx, key, data); err != nil {
		return nil, err
	}
	return data, nil
}

func (m *Mirror) Save(ctx context.Context, key string, data []byte) error {
	if err := m.local.Save(ctx, key, data); err != nil {
		persistFailures.WithLabelValues(key).Inc()
		return err
	}
	if err := m.remote.Save(ctx, key, data); err != nil {
		remotePersistOK.WithLabelValues(key).Set(0)
		m.logger.Warn("remote state persist failed", "key", key, "error", err)
		return nil
	}
	remotePersistOK.WithLabelValues(key).Set(1)
	return nil
}

func (m *Mirror) Delete(ctx context.Context, key string) error {
	if err := m.local.Delete(ctx, key); err != nil {
		return err
	}
	if err := m.remote.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
		m.logger.Warn("remote state delete failed", "key", key, "error", err)
	}
	return nil
}

// Close releases the local store if it holds resources.
func (m *Mirror) Close() error {
	if closer, ok := m.local.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

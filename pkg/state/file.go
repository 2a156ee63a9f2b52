package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"crconsync/pkg/logger"
)

// FileStore keeps the state as a JSON file, rewritten through a temporary file and a rename.
type FileStore struct {
	fs     afero.Fs
	path   string
	logger *logger.Logger
}

// NewFileStore returns a FileStore on the OS filesystem.
func NewFileStore(path string, l *logger.Logger) *FileStore {
	return NewFileStoreFs(afero.NewOsFs(), path, l)
}

// NewFileStoreFs returns a FileStore on the given filesystem.
func NewFileStoreFs(fs afero.Fs, path string, l *logger.Logger) *FileStore {
	return &FileStore{fs: fs, path: path, logger: l}
}

func (s *FileStore) Location() string { return "file://" + s.path }

func (s *FileStore) Load(ctx context.Context) (CursorState, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if os.IsNotExist(err) {
		return Default(), nil
	} else if err != nil {
		s.logger.Error("state file unreadable, starting from defaults", err, zap.String("path", s.path))
		return Default(), nil
	}

	st, err := Decode(data)
	if err != nil {
		s.logger.Error("state file corrupt, starting from defaults", err, zap.String("path", s.path))
		return Default(), nil
	}
	return st, nil
}

func (s *FileStore) Save(ctx context.Context, st CursorState) error {
	data, err := Encode(st)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	f, err := afero.TempFile(s.fs, dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmp := f.Name()

	if _, err = f.Write(data); err != nil {
		err = fmt.Errorf("write temp state file: %w", err)
	} else if err = f.Sync(); err != nil {
		err = fmt.Errorf("sync temp state file: %w", err)
	}
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close temp state file: %w", cerr)
	}
	if err == nil {
		if err = s.fs.Rename(tmp, s.path); err != nil {
			err = fmt.Errorf("rename temp state file: %w", err)
		}
	}
	if err != nil {
		_ = s.fs.Remove(tmp)
		return err
	}

	s.logger.Debug("state saved",
		zap.String("path", s.path),
		zap.Int64("log_lines", st.LastExportedIDs.LogLines),
		zap.Int64("player_sessions", st.LastExportedIDs.PlayerSessions),
		zap.Int64("player_stats", st.LastExportedIDs.PlayerStats),
		zap.Int64("map_history", st.LastExportedIDs.MapHistory))
	return nil
}

func (s *FileStore) Reset(ctx context.Context) (bool, error) {
	err := s.fs.Remove(s.path)
	if os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("remove state file: %w", err)
	}
	return true, nil
}

package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"zapis/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupService(t *testing.T) {
	tempDir := t.TempDir()
	logger := zerolog.Nop()

	db, err := NewDB(filepath.Join(tempDir, "source.db"), &logger)
	require.NoError(t, err)
	defer db.Close()

	storagePath := filepath.Join(tempDir, "backups")
	cfg := config.BackupConfig{
		Enabled:       true,
		StoragePath:   storagePath,
		RetentionDays: 1,
	}
	s := NewBackupService(db, cfg, &logger)

	t.Run("PerformBackup", func(t *testing.T) {
		path, err := s.PerformBackup(context.Background())
		require.NoError(t, err)
		assert.FileExists(t, path)

		files, err := os.ReadDir(storagePath)
		require.NoError(t, err)
		assert.Len(t, files, 1)
	})

	t.Run("CleanupOldBackups", func(t *testing.T) {
		oldFile := filepath.Join(storagePath, "backup_old.db")
		require.NoError(t, os.WriteFile(oldFile, []byte("old"), 0o644))

		oldTime := time.Now().AddDate(0, 0, -2)
		require.NoError(t, os.Chtimes(oldFile, oldTime, oldTime))

		assert.Equal(t, 1, s.CleanupOldBackups())

		files, err := os.ReadDir(storagePath)
		require.NoError(t, err)
		assert.Len(t, files, 1)
		assert.NotEqual(t, "backup_old.db", files[0].Name())
	})
}

func TestBackupService_Disabled(t *testing.T) {
	logger := zerolog.Nop()
	storagePath := filepath.Join(t.TempDir(), "backups")
	s := NewBackupService(nil, config.BackupConfig{Enabled: false, StoragePath: storagePath}, &logger)

	s.Run()

	_, err := os.Stat(storagePath)
	assert.True(t, os.IsNotExist(err))
}

func TestBackupService_NoRetention(t *testing.T) {
	logger := zerolog.Nop()
	s := NewBackupService(nil, config.BackupConfig{RetentionDays: 0}, &logger)
	assert.Equal(t, 0, s.CleanupOldBackups())
}

package doctor

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"
)

const backupStampLayout = "20060102-150405"

// maxBackupSuffix bounds the search for a free name when several repairs run
// within the same second.
const maxBackupSuffix = 100

// BackupFile copies path to path.bak-<UTC stamp>, never overwriting an
// earlier backup, and returns the new file's path. The copy keeps the source
// permissions.
func BackupFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("backup: path is empty")
	}
	src, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("backup: %s is not a regular file", path)
	}

	dst, name, err := createBackup(path, info.Mode().Perm(), time.Now().UTC())
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(name)
		return "", fmt.Errorf("backup %s: %w", path, err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

func createBackup(path string, perm fs.FileMode, now time.Time) (*os.File, string, error) {
	base := path + ".bak-" + now.Format(backupStampLayout)
	for i := 0; i < maxBackupSuffix; i++ {
		name := base
		if i > 0 {
			name = fmt.Sprintf("%s.%d", base, i)
		}
		f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		return f, name, err
	}
	return nil, "", fmt.Errorf("backup: no free name for %s", base)
}

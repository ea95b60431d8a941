package doctor

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/haasonsaas/hookguard/internal/config"
)

// RepairStateDir creates the state directory with owner-only permissions
// and tightens an existing one. It reports whether anything changed.
func RepairStateDir(cfg *config.Config) (string, bool, error) {
	dir := filepath.Join(cfg.BaseDir, config.DefaultStateDir)
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return dir, false, err
		}
		return dir, true, nil
	case err != nil:
		return dir, false, err
	case !info.IsDir():
		return dir, false, fmt.Errorf("%s exists and is not a directory", dir)
	case info.Mode().Perm()&0o077 != 0:
		if err := os.Chmod(dir, 0o700); err != nil {
			return dir, false, err
		}
		return dir, true, nil
	}
	return dir, false, nil
}

// RepairGitignore makes sure the state directory is ignored by git in root.
// An existing .gitignore is backed up before it is changed. It returns the
// backup path, if one was made, and whether the file changed.
func RepairGitignore(root string) (string, bool, error) {
	path := filepath.Join(root, ".gitignore")
	entry := config.DefaultStateDir + "/"

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return "", false, err
	}
	if ignores(data, config.DefaultStateDir) {
		return "", false, nil
	}

	var backup string
	if err == nil {
		if backup, err = BackupFile(path); err != nil {
			return "", false, fmt.Errorf("backup .gitignore: %w", err)
		}
	}

	var buf bytes.Buffer
	buf.Write(data)
	if len(data) > 0 && !bytes.HasSuffix(data, []byte("\n")) {
		buf.WriteByte('\n')
	}
	buf.WriteString(entry + "\n")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return backup, false, err
	}
	return backup, true, nil
}

func ignores(data []byte, dir string) bool {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		line = strings.TrimPrefix(line, "/")
		line = strings.TrimSuffix(line, "/")
		if line == dir || line == dir+"/*" || line == dir+"/**" {
			return true
		}
	}
	return false
}

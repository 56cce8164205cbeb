// Package archive keeps copies of files a merge is about to rewrite.
package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

type BackupMeta struct {
	Reason    string   `json:"reason"`
	Files     []string `json:"files"`
	Sources   []string `json:"sources"`
	CreatedAt string   `json:"created_at"`
}

// Backup copies every existing file in files into `dir/backup_<UTC stamp>/`
// and writes a meta.json beside them. Missing files are skipped. It returns
// the backup directory.
func Backup(dir, reason string, now time.Time, files ...string) (string, error) {
	stamp := now.UTC().Format("20060102T150405.000000000")
	backupDir := filepath.Join(dir, "backup_"+stamp)
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return "", err
	}

	meta := BackupMeta{Reason: reason, CreatedAt: now.UTC().Format(time.RFC3339Nano)}
	for _, src := range files {
		if _, err := os.Stat(src); os.IsNotExist(err) {
			continue
		}
		dst := filepath.Join(backupDir, filepath.Base(src))
		if _, err := os.Stat(dst); err == nil {
			dst = filepath.Join(backupDir, fmt.Sprintf("%d_%s", len(meta.Files), filepath.Base(src)))
		}
		if err := copyFile(src, dst); err != nil {
			return "", fmt.Errorf("backup %s: %w", src, err)
		}
		meta.Files = append(meta.Files, filepath.Base(dst))
		meta.Sources = append(meta.Sources, src)
	}

	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(backupDir, "meta.json"), b, 0o644); err != nil {
		return "", err
	}
	return backupDir, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

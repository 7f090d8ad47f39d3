package sandbox

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/pmezard/go-difflib/difflib"
)

// FileManager handles the restorable-backup lifecycle of the file under
// repair and persists per-patch results under the workspace.
type FileManager struct {
	workspaceRoot string
}

// NewFileManager creates the workspace root if needed.
func NewFileManager(workspaceRoot string) (*FileManager, error) {
	if err := os.MkdirAll(workspaceRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace %s: %w", workspaceRoot, err)
	}
	return &FileManager{workspaceRoot: workspaceRoot}, nil
}

// WorkspaceRoot returns the workspace directory.
func (m *FileManager) WorkspaceRoot() string { return m.workspaceRoot }

func backupPath(filePath string) string { return filePath + ".bak" }

// ReadFile returns the file's content.
func (m *FileManager) ReadFile(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", filePath, err)
	}
	return string(data), nil
}

// Backup copies the file to a .bak sibling. An existing backup is kept: the
// first backup of a session is the pre-session content that every restore
// must return to.
func (m *FileManager) Backup(filePath string) error {
	bak := backupPath(filePath)
	if _, err := os.Stat(bak); err == nil {
		log.Printf("[files] backup already exists for %s", filePath)
		return nil
	}
	if err := copyFile(filePath, bak); err != nil {
		return fmt.Errorf("backup %s: %w", filePath, err)
	}
	log.Printf("[files] backup created: %s", bak)
	return nil
}

// Restore copies the backup over the file. Missing backup is reported but
// is not fatal; the file was never mutated in that case.
func (m *FileManager) Restore(filePath string) error {
	bak := backupPath(filePath)
	if _, err := os.Stat(bak); err != nil {
		log.Printf("[files] no backup to restore for %s", filePath)
		return nil
	}
	if err := copyFile(bak, filePath); err != nil {
		return fmt.Errorf("restore %s: %w", filePath, err)
	}
	log.Printf("[files] restored original: %s", filePath)
	return nil
}

// WritePatch overwrites the file with candidate content, backing it up first.
func (m *FileManager) WritePatch(filePath, content string) error {
	if err := m.Backup(filePath); err != nil {
		return err
	}
	if err := os.WriteFile(filePath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write patch to %s: %w", filePath, err)
	}
	return nil
}

// DeleteBackup removes the .bak sibling if present.
func (m *FileManager) DeleteBackup(filePath string) {
	bak := backupPath(filePath)
	if err := os.Remove(bak); err != nil && !os.IsNotExist(err) {
		log.Printf("[files] delete backup %s: %v", bak, err)
	}
}

// Diff returns the unified diff between original and modified content.
func (m *FileManager) Diff(original, modified, fileLabel string) string {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(original),
		B:        difflib.SplitLines(modified),
		FromFile: "a/" + fileLabel,
		ToFile:   "b/" + fileLabel,
		Context:  3,
	})
	if err != nil {
		log.Printf("[files] diff failed for %s: %v", fileLabel, err)
		return ""
	}
	return text
}

// SaveResult writes a JSON document into the workspace outputs directory.
func (m *FileManager) SaveResult(filename string, v any) error {
	outDir := filepath.Join(m.workspaceRoot, "outputs")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create outputs dir: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	target := filepath.Join(outDir, filename)
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("save result %s: %w", target, err)
	}
	log.Printf("[files] result saved to %s", target)
	return nil
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
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

package stage

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/codekansas/ml-template/internal/config"
)

// Stage copies the working tree rooted at srcDir into a fresh timestamped
// directory under stageRoot and returns the new directory. The copy is
// treated as immutable: cluster submissions run against it so that
// resubmission is reproducible even if the original tree changes.
func Stage(srcDir, stageRoot string) (string, error) {
	if stageRoot == "" {
		return "", fmt.Errorf("stage directory is required (set --stage-dir or ML_STAGE_DIR)")
	}
	stamp := time.Now().Format("20060102_150405")
	outDir := filepath.Join(stageRoot, fmt.Sprintf("stage_%s", stamp))
	for i := 1; ; i++ {
		if _, err := os.Stat(outDir); os.IsNotExist(err) {
			break
		}
		outDir = filepath.Join(stageRoot, fmt.Sprintf("stage_%s_%d", stamp, i))
	}
	if err := copyTree(srcDir, outDir); err != nil {
		return "", err
	}
	return outDir, nil
}

// StageConfig writes the resolved config into the staged directory's
// configs/ subdirectory, numbered after any previously staged configs.
func StageConfig(stageDir string, cfg config.Tree) (string, error) {
	configDir := filepath.Join(stageDir, "configs")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create staged config directory: %w", err)
	}
	existing, err := filepath.Glob(filepath.Join(configDir, "config_*.yaml"))
	if err != nil {
		return "", fmt.Errorf("failed to list staged configs: %w", err)
	}
	configPath := filepath.Join(configDir, fmt.Sprintf("config_%d.yaml", len(existing)))
	if err := cfg.Write(configPath); err != nil {
		return "", err
	}
	return configPath, nil
}

func copyTree(srcDir, outDir string) error {
	return filepath.WalkDir(srcDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if entry.Name() == ".git" {
				return filepath.SkipDir
			}
			return os.MkdirAll(filepath.Join(outDir, rel), 0o755)
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		return copyFile(path, filepath.Join(outDir, rel))
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return nil
}

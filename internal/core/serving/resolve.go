package serving

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"finetune-pipeline/internal/core/types"
)

// LatestModelPath returns the most recently modified subdirectory of root.
func LatestModelPath(root string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Error("model directory does not exist", "dir", root)
			return "", fmt.Errorf("%w: model directory %s does not exist", types.ErrNotFound, root)
		}
		return "", fmt.Errorf("error listing model directory: %w", err)
	}

	var latest string
	var latestInfo os.FileInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return "", fmt.Errorf("error reading %s: %w", entry.Name(), err)
		}
		if latestInfo == nil || info.ModTime().After(latestInfo.ModTime()) {
			latest = filepath.Join(root, entry.Name())
			latestInfo = info
		}
	}

	if latest == "" {
		slog.Error("no fine-tuned models found", "dir", root)
		return "", fmt.Errorf("%w: no fine-tuned models found in %s", types.ErrNotFound, root)
	}

	slog.Info("latest model directory", "path", latest)
	return latest, nil
}

package finetune

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

const MetricsFile = "training_metrics.json"

func SaveTrainingMetrics(metrics map[string]float64, outputDir string) error {
	data, err := json.MarshalIndent(metrics, "", "    ")
	if err != nil {
		return fmt.Errorf("error encoding training metrics: %w", err)
	}

	path := filepath.Join(outputDir, MetricsFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		slog.Error("failed to save training metrics", "path", path, "error", err)
		return fmt.Errorf("error saving training metrics: %w", err)
	}

	slog.Info("training metrics saved", "path", path)
	return nil
}

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"finetune-pipeline/internal/core/types"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func CreateRun(ctx context.Context, db *gorm.DB, useCase, baseModel, modelPath string) (*TrainingRun, error) {
	run := TrainingRun{
		Id:           uuid.New(),
		UseCase:      useCase,
		BaseModel:    baseModel,
		ModelPath:    modelPath,
		Status:       RunQueued,
		CreationTime: time.Now().UTC(),
	}

	if err := db.WithContext(ctx).Create(&run).Error; err != nil {
		slog.Error("error creating training run", "use_case", useCase, "error", err)
		return nil, fmt.Errorf("error creating training run: %w", err)
	}
	return &run, nil
}

func UpdateRunStatus(ctx context.Context, txn *gorm.DB, runId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	if status == RunCompleted || status == RunFailed {
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&TrainingRun{Id: runId}).Updates(updates).Error; err != nil {
		slog.Error("error updating run status", "run_id", runId, "status", status, "error", err)
		return err
	}
	return nil
}

func SetRunSampleCount(ctx context.Context, txn *gorm.DB, runId uuid.UUID, count int) error {
	if err := txn.WithContext(ctx).Model(&TrainingRun{Id: runId}).Update("sample_count", count).Error; err != nil {
		return fmt.Errorf("error updating sample count: %w", err)
	}
	return nil
}

func CompleteRun(ctx context.Context, txn *gorm.DB, runId uuid.UUID, metrics map[string]float64) error {
	encoded, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("could not marshal metrics: %w", err)
	}

	updates := map[string]any{
		"status":          RunCompleted,
		"metrics":         encoded,
		"completion_time": time.Now().UTC(),
	}
	if err := txn.WithContext(ctx).Model(&TrainingRun{Id: runId}).Updates(updates).Error; err != nil {
		slog.Error("error completing run", "run_id", runId, "error", err)
		return err
	}
	return nil
}

func FailRun(ctx context.Context, txn *gorm.DB, runId uuid.UUID, runErr error) {
	updates := map[string]any{
		"status":          RunFailed,
		"error":           sql.NullString{String: runErr.Error(), Valid: true},
		"completion_time": time.Now().UTC(),
	}
	if err := txn.WithContext(ctx).Model(&TrainingRun{Id: runId}).Updates(updates).Error; err != nil {
		slog.Error("error saving run failure", "run_id", runId, "error", err)
	}
}

func SetRunArtifact(ctx context.Context, txn *gorm.DB, runId uuid.UUID, uri string) error {
	if err := txn.WithContext(ctx).Model(&TrainingRun{Id: runId}).Update("artifact_uri", sql.NullString{String: uri, Valid: true}).Error; err != nil {
		return fmt.Errorf("error saving artifact uri: %w", err)
	}
	return nil
}

func GetRun(ctx context.Context, db *gorm.DB, runId uuid.UUID) (*TrainingRun, error) {
	var run TrainingRun
	if err := db.WithContext(ctx).First(&run, "id = ?", runId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: training run %s", types.ErrNotFound, runId)
		}
		return nil, fmt.Errorf("error loading training run: %w", err)
	}
	return &run, nil
}

func ListRuns(ctx context.Context, db *gorm.DB) ([]TrainingRun, error) {
	var runs []TrainingRun
	if err := db.WithContext(ctx).Order("creation_time DESC").Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("error listing training runs: %w", err)
	}
	return runs, nil
}

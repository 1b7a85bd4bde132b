package framework

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

const (
	JobFile    = "job.json"
	ResultFile = "train_output.json"
	modelDir   = "model"

	maxErrorOutput = 2048
)

// CommandFramework runs an external trainer command once per job. The command
// is invoked as
//
//	<command...> --job <staging>/job.json --result <staging>/train_output.json --model-dir <staging>/model
//
// The trainer reads the TrainJob encoded in job.json. Before exiting with
// status 0 it writes a TrainOutput as JSON to the result path and the trained
// weights to the model dir. The model dir becomes the served artifact, so it
// must hold an ONNX export named model.onnx with an input_ids input (optionally
// attention_mask and position_ids) and a logits output shaped
// [batch, sequence, vocab]. A trainer may report a different weights location
// in model.path of its result.
//
// Staged weights are single use: SaveModel copies them out and removes the
// staging dir, and a failed Train removes it before returning.
type CommandFramework struct {
	command []string

	mu      sync.Mutex
	staging map[string]struct{}
}

var _ Framework = (*CommandFramework)(nil)

func NewCommandFramework(command []string) (*CommandFramework, error) {
	if len(command) == 0 || command[0] == "" {
		return nil, errors.New("trainer command is not configured")
	}
	return &CommandFramework{command: command, staging: map[string]struct{}{}}, nil
}

func (f *CommandFramework) LoadModel(ctx context.Context, name string) (ModelRef, error) {
	if strings.TrimSpace(name) == "" {
		return ModelRef{}, errors.New("model name is empty")
	}

	ref := ModelRef{Name: name}
	if info, err := os.Stat(name); err == nil && info.IsDir() {
		ref.Path = name
	}
	return ref, nil
}

func (f *CommandFramework) Train(ctx context.Context, job TrainJob) (out TrainOutput, err error) {
	staging, err := os.MkdirTemp("", "train-job-")
	if err != nil {
		return TrainOutput{}, fmt.Errorf("error creating staging dir: %w", err)
	}
	f.track(staging)
	defer func() {
		if err != nil {
			f.discard(staging)
		}
	}()

	jobPath := filepath.Join(staging, JobFile)
	resultPath := filepath.Join(staging, ResultFile)
	weightsDir := filepath.Join(staging, modelDir)

	if err := writeJSON(jobPath, job); err != nil {
		return TrainOutput{}, err
	}

	args := append(append([]string{}, f.command[1:]...),
		"--job", jobPath,
		"--result", resultPath,
		"--model-dir", weightsDir,
	)

	output := &tailBuffer{limit: maxErrorOutput}
	cmd := exec.CommandContext(ctx, f.command[0], args...)
	cmd.Stdout = io.MultiWriter(os.Stderr, output)
	cmd.Stderr = io.MultiWriter(os.Stderr, output)

	slog.Info("starting trainer", "command", f.command[0], "job", jobPath, "model", job.Model.Name)

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return TrainOutput{}, fmt.Errorf("trainer cancelled: %w", ctxErr)
		}
		return TrainOutput{}, fmt.Errorf("trainer command failed: %w: %s", err, strings.TrimSpace(output.String()))
	}

	data, err := os.ReadFile(resultPath)
	if err != nil {
		return TrainOutput{}, fmt.Errorf("error reading trainer result: %w", err)
	}

	var result TrainOutput
	if err := json.Unmarshal(data, &result); err != nil {
		return TrainOutput{}, fmt.Errorf("error parsing trainer result: %w", err)
	}

	if result.Model.Name == "" {
		result.Model.Name = job.Model.Name
	}
	if result.Model.Path == "" {
		result.Model.Path = weightsDir
	}
	if stagingDirOf(result.Model.Path, staging) == "" {
		// Weights live outside the staging dir, only the job files remain.
		f.discard(staging)
	}

	slog.Info("trainer finished", "global_step", result.GlobalStep, "training_loss", result.TrainingLoss)

	return result, nil
}

func (f *CommandFramework) SaveModel(ctx context.Context, model ModelRef, dir string) error {
	if model.Path == "" {
		return fmt.Errorf("model '%s' has no weights to save", model.Name)
	}

	src, err := filepath.Abs(model.Path)
	if err != nil {
		return err
	}
	dst, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	if src == dst {
		return nil
	}

	if staging := f.stagedBy(src); staging != "" {
		defer f.discard(staging)
	}

	if err := copyDir(ctx, src, dst); err != nil {
		return fmt.Errorf("error saving model to %s: %w", dir, err)
	}
	return nil
}

func (f *CommandFramework) Close() {
	f.mu.Lock()
	dirs := make([]string, 0, len(f.staging))
	for dir := range f.staging {
		dirs = append(dirs, dir)
	}
	f.mu.Unlock()

	for _, dir := range dirs {
		f.discard(dir)
	}
}

func (f *CommandFramework) track(staging string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.staging[staging] = struct{}{}
}

// stagedBy returns the tracked staging dir holding path, if any.
func (f *CommandFramework) stagedBy(path string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for staging := range f.staging {
		if dir := stagingDirOf(path, staging); dir != "" {
			return dir
		}
	}
	return ""
}

func (f *CommandFramework) discard(staging string) {
	f.mu.Lock()
	delete(f.staging, staging)
	f.mu.Unlock()

	if err := os.RemoveAll(staging); err != nil {
		slog.Warn("error removing staging dir", "dir", staging, "error", err)
	}
}

func stagingDirOf(path, staging string) string {
	rel, err := filepath.Rel(staging, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ""
	}
	return staging
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("error encoding %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing %s: %w", filepath.Base(path), err)
	}
	return nil
}

func copyDir(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, os.ModePerm)
		}
		return copyFile(path, target)
	})
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
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf.Write(p)
	if extra := t.buf.Len() - t.limit; extra > 0 {
		t.buf.Next(extra)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"finetune-pipeline/internal/core/datagen"
	"finetune-pipeline/internal/core/finetune"
	"finetune-pipeline/internal/core/serving"
	"finetune-pipeline/internal/core/types"
	"finetune-pipeline/internal/core/utils"
	"finetune-pipeline/internal/database"
	"finetune-pipeline/internal/document_parsing"
	"finetune-pipeline/internal/storage"
	"finetune-pipeline/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

const (
	maxUploadMemory   = 32 << 20
	extractionWorkers = 4
)

type PipelineService struct {
	db           *gorm.DB
	llm          datagen.LLM
	orchestrator *finetune.Orchestrator
	cache        *serving.Cache

	// publisher is nil when no object store is configured.
	publisher *storage.Publisher

	modelRoot  string
	trainLocks *utils.KeyedMutex
}

func NewPipelineService(db *gorm.DB, llm datagen.LLM, orchestrator *finetune.Orchestrator, cache *serving.Cache, publisher *storage.Publisher, modelRoot string) *PipelineService {
	return &PipelineService{
		db:           db,
		llm:          llm,
		orchestrator: orchestrator,
		cache:        cache,
		publisher:    publisher,
		modelRoot:    modelRoot,
		trainLocks:   utils.NewKeyedMutex(),
	}
}

func (s *PipelineService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Post("/train", RestHandler(s.Train))
	r.Post("/predict", RestHandler(s.Predict))
	r.Post("/upload-pdfs", RestHandler(s.UploadPDFs))
	r.Route("/runs", func(r chi.Router) {
		r.Get("/", RestHandler(s.ListRuns))
		r.Get("/{run_id}", RestHandler(s.GetRun))
	})
	r.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))
}

// ModelOutputDir is where the artifact for useCase is written.
func ModelOutputDir(root, useCase string) string {
	return filepath.Join(root, "finetuned_"+strings.ReplaceAll(useCase, " ", "_"))
}

func (s *PipelineService) Train(r *http.Request) (any, error) {
	req, err := ParseParams[api.TrainRequest](r)
	if err != nil {
		return nil, err
	}
	if req.UseCase == "" {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "use_case is required")
	}

	ctx := r.Context()
	outputDir := ModelOutputDir(s.modelRoot, req.UseCase)

	unlock := s.trainLocks.Lock(outputDir)
	defer unlock()

	run, err := database.CreateRun(ctx, s.db, req.UseCase, s.orchestrator.Config.Model.BaseModel, outputDir)
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create training run entry")
	}

	result, err := s.runTraining(ctx, run, outputDir)
	if err != nil {
		database.FailRun(context.WithoutCancel(ctx), s.db, run.Id, err)
		trainingRunsTotal.WithLabelValues(database.RunFailed).Inc()
		return nil, CodedError(http.StatusInternalServerError, err)
	}

	if err := database.CompleteRun(ctx, s.db, run.Id, result.Metrics); err != nil {
		slog.Error("error recording completed run", "run_id", run.Id, "error", err)
	}
	trainingRunsTotal.WithLabelValues(database.RunCompleted).Inc()

	if s.publisher != nil {
		uri, err := s.publisher.Publish(ctx, filepath.Base(outputDir), outputDir)
		if err != nil {
			slog.Error("error publishing artifact", "run_id", run.Id, "error", err)
		} else if err := database.SetRunArtifact(ctx, s.db, run.Id, uri); err != nil {
			slog.Error("error recording artifact uri", "run_id", run.Id, "error", err)
		}
	}

	return api.TrainResponse{Status: "fine-tuning completed", ModelPath: outputDir, RunId: run.Id}, nil
}

func (s *PipelineService) runTraining(ctx context.Context, run *database.TrainingRun, outputDir string) (*finetune.Result, error) {
	if err := database.UpdateRunStatus(ctx, s.db, run.Id, database.RunGenerating); err != nil {
		return nil, err
	}

	samples, err := datagen.GenerateData(ctx, s.llm, datagen.DatagenOpts{UseCase: run.UseCase, NumSamples: datagen.DefaultNumSamples})
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("no data generated for the given use case: %w", types.ErrGeneration)
	}

	if err := database.SetRunSampleCount(ctx, s.db, run.Id, len(samples)); err != nil {
		slog.Error("error recording sample count", "run_id", run.Id, "error", err)
	}

	orchestrator := *s.orchestrator
	orchestrator.Observer = func(stage finetune.Stage) {
		slog.Info("training run stage", "run_id", run.Id, "stage", stage)
		if stage == finetune.StageTraining {
			if err := database.UpdateRunStatus(ctx, s.db, run.Id, database.RunTraining); err != nil {
				slog.Error("error updating run status", "run_id", run.Id, "error", err)
			}
		}
	}

	return orchestrator.FinetuneModel(ctx, samples, outputDir, run.UseCase)
}

func (s *PipelineService) Predict(r *http.Request) (any, error) {
	req, err := ParseParams[api.PredictRequest](r)
	if err != nil {
		return nil, err
	}
	if req.Prompt == "" {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "prompt is required")
	}

	ctx := r.Context()

	modelPath, err := serving.LatestModelPath(s.modelRoot)
	if err != nil {
		return nil, CodedError(http.StatusInternalServerError, err)
	}

	server, err := serving.NewModelServer(ctx, modelPath, s.cache)
	if err != nil {
		return nil, CodedError(http.StatusInternalServerError, err)
	}

	prediction, err := server.Predict(ctx, req.Prompt, serving.DefaultPredictOptions())
	if err != nil {
		return nil, CodedError(http.StatusInternalServerError, err)
	}

	return api.PredictResponse{Prediction: prediction}, nil
}

type uploadedPDF struct {
	name     string
	contents []byte
}

func (s *PipelineService) UploadPDFs(r *http.Request) (any, error) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		slog.Error("error parsing multipart form", "error", err)
		return nil, CodedErrorf(http.StatusBadRequest, "unable to parse multipart form")
	}

	useCase := r.FormValue("use_case")
	if useCase == "" {
		return nil, CodedErrorf(http.StatusUnprocessableEntity, "use_case is required")
	}

	var headers []*multipart.FileHeader
	if r.MultipartForm != nil {
		headers = r.MultipartForm.File["files"]
	}

	slog.Info("received upload request", "use_case", useCase, "files", len(headers))

	if len(headers) == 0 {
		return nil, CodedErrorf(http.StatusBadRequest, "No files uploaded.")
	}

	pdfs := make([]uploadedPDF, 0, len(headers))
	for _, header := range headers {
		if !document_parsing.IsPDF(header.Filename) {
			slog.Warn("skipping non-PDF file", "filename", header.Filename)
			continue
		}
		contents, err := readUpload(header)
		if err != nil {
			return nil, CodedErrorf(http.StatusInternalServerError, "Failed to extract text from '%s': %v", header.Filename, err)
		}
		pdfs = append(pdfs, uploadedPDF{name: header.Filename, contents: contents})
	}

	extracted := utils.RunInPool(pdfs, func(pdf uploadedPDF) (string, error) {
		return document_parsing.PDFToText(pdf.contents)
	}, extractionWorkers)

	texts := make([]string, 0, len(extracted))
	for _, task := range extracted {
		name := pdfs[task.Index].name
		if task.Error != nil {
			slog.Error("failed to extract text", "filename", name, "error", task.Error)
			return nil, CodedErrorf(http.StatusInternalServerError, "Failed to extract text from '%s': %v", name, task.Error)
		}
		if strings.TrimSpace(task.Result) == "" {
			slog.Warn("no text found in PDF", "filename", name)
		}
		texts = append(texts, task.Result)
		slog.Info("extracted text", "filename", name)
	}

	if len(texts) == 0 {
		return nil, CodedErrorf(http.StatusBadRequest, "No valid text extracted from uploaded PDFs.")
	}

	combined := strings.Join(texts, "\n")

	dataset, err := datagen.GenerateData(r.Context(), s.llm, datagen.DatagenOpts{
		UseCase:         useCase,
		NumSamples:      datagen.DefaultNumSamples,
		FewShotExamples: document_parsing.FewShotFromText(combined),
	})
	if err != nil {
		return nil, CodedError(http.StatusInternalServerError, fmt.Errorf("Failed to generate dataset: %w", err))
	}
	slog.Info("generated dataset", "use_case", useCase, "samples", len(dataset))

	return api.DatasetResponse{Status: "Dataset generated successfully.", Dataset: dataset}, nil
}

func readUpload(header *multipart.FileHeader) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

func (s *PipelineService) ListRuns(r *http.Request) (any, error) {
	runs, err := database.ListRuns(r.Context(), s.db)
	if err != nil {
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving training runs")
	}

	results := make([]api.TrainingRun, 0, len(runs))
	for _, run := range runs {
		results = append(results, convertRun(run))
	}
	return results, nil
}

func (s *PipelineService) GetRun(r *http.Request) (any, error) {
	runId, err := URLParamUUID(r, "run_id")
	if err != nil {
		return nil, err
	}

	run, err := database.GetRun(r.Context(), s.db, runId)
	if err != nil {
		if types.Kind(err) == types.KindNotFound {
			return nil, CodedError(http.StatusNotFound, err)
		}
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving training run")
	}

	return convertRun(*run), nil
}

func convertRun(run database.TrainingRun) api.TrainingRun {
	result := api.TrainingRun{
		Id:           run.Id,
		UseCase:      run.UseCase,
		BaseModel:    run.BaseModel,
		ModelPath:    run.ModelPath,
		ArtifactURI:  run.ArtifactURI.String,
		Status:       run.Status,
		SampleCount:  run.SampleCount,
		Error:        run.Error.String,
		CreationTime: run.CreationTime,
	}
	if run.CompletionTime.Valid {
		result.CompletionTime = &run.CompletionTime.Time
	}
	if len(run.Metrics) > 0 {
		if err := json.Unmarshal(run.Metrics, &result.Metrics); err != nil {
			slog.Warn("error decoding run metrics", "run_id", run.Id, "error", err)
		}
	}
	return result
}

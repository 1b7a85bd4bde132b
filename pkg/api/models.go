package api

import (
	"time"

	"github.com/google/uuid"
)

// Sample is one supervised fine-tuning pair.
type Sample struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

type TrainRequest struct {
	UseCase string `json:"use_case" schema:"use_case"`
}

type TrainResponse struct {
	Status    string    `json:"status"`
	ModelPath string    `json:"model_path"`
	RunId     uuid.UUID `json:"run_id"`
}

type PredictRequest struct {
	Prompt string `json:"prompt" schema:"prompt"`
}

type PredictResponse struct {
	Prediction string `json:"prediction"`
}

type DatasetResponse struct {
	Status  string   `json:"status"`
	Dataset []Sample `json:"dataset"`
}

type ErrorResponse struct {
	Detail string `json:"detail"`
	Kind   string `json:"kind,omitempty"`
}

type TrainingRun struct {
	Id             uuid.UUID
	UseCase        string
	BaseModel      string
	ModelPath      string
	ArtifactURI    string `json:"ArtifactURI,omitempty"`
	Status         string
	SampleCount    int
	Metrics        map[string]float64 `json:"Metrics,omitempty"`
	Error          string             `json:"Error,omitempty"`
	CreationTime   time.Time
	CompletionTime *time.Time `json:"CompletionTime,omitempty"`
}

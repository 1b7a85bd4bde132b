package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	RunQueued     string = "QUEUED"
	RunGenerating string = "GENERATING"
	RunTraining   string = "TRAINING"
	RunCompleted  string = "COMPLETED"
	RunFailed     string = "FAILED"
)

type TrainingRun struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	UseCase   string `gorm:"not null"`
	BaseModel string
	ModelPath string

	// ArtifactURI is set once the artifact is published to object storage.
	ArtifactURI sql.NullString

	Status      string `gorm:"size:20;not null"`
	SampleCount int    `gorm:"default:0"`
	Metrics     datatypes.JSON
	Error       sql.NullString

	CreationTime   time.Time
	CompletionTime sql.NullTime
}

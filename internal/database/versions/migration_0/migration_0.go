package migration_0

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type TrainingRun struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	UseCase   string `gorm:"not null"`
	BaseModel string
	ModelPath string

	Status      string `gorm:"size:20;not null"`
	SampleCount int    `gorm:"default:0"`
	Metrics     datatypes.JSON
	Error       sql.NullString

	CreationTime   time.Time
	CompletionTime sql.NullTime
}

func Migration(db *gorm.DB) error {
	return db.AutoMigrate(&TrainingRun{})
}

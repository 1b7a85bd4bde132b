package migration_1

import (
	"database/sql"
	"fmt"

	"gorm.io/gorm"
)

type TrainingRun struct {
	ArtifactURI sql.NullString
}

func Migration(db *gorm.DB) error {
	if err := db.Migrator().AddColumn(&TrainingRun{}, "ArtifactURI"); err != nil {
		return fmt.Errorf("error adding ArtifactURI column: %w", err)
	}
	return nil
}

func Rollback(db *gorm.DB) error {
	if err := db.Migrator().DropColumn(&TrainingRun{}, "ArtifactURI"); err != nil {
		return fmt.Errorf("error dropping ArtifactURI column: %w", err)
	}
	return nil
}

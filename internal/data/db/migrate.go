package db

import (
	"gorm.io/gorm"

	"github.com/convolab/lessonaudio/internal/domain/jobs"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&jobs.JobRun{},
		&jobs.JobRunEvent{},
	)
}

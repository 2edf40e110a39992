package migrations

import (
	"gorm.io/gorm"

	"github.com/jmylchreest/segmentarr/internal/models"
)

// AllMigrations returns all registered migrations in order.
//   - 001: video_streams table
//   - 002: composite (created_at, id) index backing queue traversal
func AllMigrations() []Migration {
	return []Migration{
		migration001Schema(),
		migration002QueueOrderIndex(),
	}
}

func migration001Schema() Migration {
	return Migration{
		Version:     "001",
		Description: "Create video_streams table",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.VideoStream{})
		},
		Down: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&models.VideoStream{})
		},
	}
}

const queueOrderIndex = "idx_video_streams_queue_order"

func migration002QueueOrderIndex() Migration {
	return Migration{
		Version:     "002",
		Description: "Index video_streams by queue order",
		Up: func(tx *gorm.DB) error {
			if tx.Migrator().HasIndex(&models.VideoStream{}, queueOrderIndex) {
				return nil
			}
			return tx.Exec("CREATE INDEX " + queueOrderIndex + " ON video_streams (created_at, id)").Error
		},
		Down: func(tx *gorm.DB) error {
			return tx.Migrator().DropIndex(&models.VideoStream{}, queueOrderIndex)
		},
	}
}

package repository

import (
	"context"

	"feeoracle/internal/models"
)

// RunRepository is the append-only sink for pipeline run records plus the
// read side used by the admin API. Writes must never block a pipeline run
// beyond their own I/O; the pipeline logs sink errors and moves on.
type RunRepository interface {
	AppendRun(ctx context.Context, item *models.OracleRun) error
	ListRecentRuns(ctx context.Context, limit int) ([]models.OracleRun, error)
	LastRun(ctx context.Context) (*models.OracleRun, error)
}

package importing

import (
	"context"
	"fmt"

	"github.com/ishan/user-service/internal/jobs"
)

// DefaultBatchSize is how many users one fetch-and-insert cycle handles.
const DefaultBatchSize = 1000

// UserFetcher pulls batches of users from an external source.
// Satisfied by *RandomUserClient.
type UserFetcher interface {
	FetchUsers(ctx context.Context, count int) ([]UserRecord, error)
}

// UserSaver persists batches of users. Satisfied by *UserStore.
type UserSaver interface {
	SaveBatch(ctx context.Context, users []UserRecord) error
}

// Importer is the workload behind asynchronous import jobs: it pulls users
// from the external source and persists them batch by batch, reporting
// progress after every batch.
type Importer struct {
	fetcher   UserFetcher
	saver     UserSaver
	batchSize int
}

// NewImporter creates a new Importer. A non-positive batchSize falls back to
// DefaultBatchSize.
func NewImporter(fetcher UserFetcher, saver UserSaver, batchSize int) *Importer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Importer{fetcher: fetcher, saver: saver, batchSize: batchSize}
}

// Run implements jobs.Workload. It stops at the first failed batch,
// returning how many users made it in; everything persisted before the
// failure stays persisted (each batch is its own transaction).
func (im *Importer) Run(ctx context.Context, job jobs.Job, report jobs.ProgressFunc) (int, error) {
	var processed int
	for processed < job.RequestedCount {
		if err := ctx.Err(); err != nil {
			return processed, fmt.Errorf("import canceled: %w", err)
		}

		batch := job.RequestedCount - processed
		if batch > im.batchSize {
			batch = im.batchSize
		}

		users, err := im.fetcher.FetchUsers(ctx, batch)
		if err != nil {
			return processed, err
		}
		if err := im.saver.SaveBatch(ctx, users); err != nil {
			return processed, err
		}

		processed += len(users)
		report(processed, fmt.Sprintf("Imported %d of %d users", processed, job.RequestedCount))
	}
	return processed, nil
}

package cmd

import (
	"context"
	"time"

	"github.com/andresmejia3/mirage/internal/pipeline"
	"github.com/andresmejia3/mirage/internal/store"
	"github.com/andresmejia3/mirage/internal/types"
	"github.com/google/uuid"
)

// storeRecorder writes pipeline events into the job history tables.
type storeRecorder struct {
	db *store.Store
}

func jobRow(res *pipeline.Result) store.Job {
	return store.Job{
		ID:                res.JobID,
		OutputPath:        res.OutputPath,
		Kind:              res.Kind.String(),
		State:             res.State.String(),
		TotalFrames:       res.TotalFrames,
		ProcessedFrames:   res.ProcessedFrames,
		FramesWithoutFace: res.FramesWithoutFace,
		StartedAt:         res.StartedAt,
	}
}

func (r storeRecorder) JobStarted(ctx context.Context, job pipeline.MediaJob, res *pipeline.Result) error {
	row := jobRow(res)
	row.SourcePath = job.SourcePath
	row.TargetPath = job.TargetPath
	return r.db.CreateJob(ctx, row)
}

func (r storeRecorder) JobFinished(ctx context.Context, res *pipeline.Result) error {
	row := jobRow(res)
	if res.Err != nil {
		row.Error = res.Err.Error()
	}
	finished := res.StartedAt.Add(res.Elapsed)
	if res.Elapsed == 0 {
		finished = time.Now()
	}
	row.FinishedAt = &finished
	return r.db.FinishJob(ctx, row)
}

func (r storeRecorder) ReferenceSet(ctx context.Context, jobID uuid.UUID, ref types.FaceReference) error {
	return r.db.SaveReference(ctx, jobID, ref)
}

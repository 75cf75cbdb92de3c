package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/corpus/internal/faults"
	"github.com/roach88/corpus/internal/index"
	"github.com/roach88/corpus/internal/lifecycle"
	"github.com/roach88/corpus/internal/store"
	"github.com/roach88/corpus/internal/transition"
)

// failureStagePostCommit tags rows whose transition committed but whose
// post-commit side effect raised; the next tick drives them to failed.
const failureStagePostCommit = "post_commit_entry"

// handle performs one transition for one claimed row. A non-nil return
// stops the pool; per-file failures are absorbed into the row's state.
func (p *Pool) handle(ctx context.Context, row store.FileRecord) error {
	if p.takePostcommit(row.Path) {
		return p.driveToFailed(ctx, row,
			"post-commit side effect failed on previous tick", failureStagePostCommit)
	}

	var err error
	switch row.State {
	case lifecycle.StateUntracked:
		err = p.startUpload(ctx, row)
	case lifecycle.StateUploading:
		err = p.pollUpload(ctx, row)
	case lifecycle.StateProcessing:
		err = p.pollProcessing(ctx, row)
	default:
		// Terminal rows are never claimed; seeing one is a feeder bug.
		return fmt.Errorf("handle: claimed terminal row %s (%s)", row.Path, row.State)
	}
	if err == nil {
		p.clearTransient(row.Path)
		return p.recordOutcome(ctx, true)
	}

	return p.absorb(ctx, row, err)
}

// absorb applies the fault policy to a per-file error. Returns non-nil only
// when the whole pool must stop.
func (p *Pool) absorb(ctx context.Context, row store.FileRecord, err error) error {
	switch faults.KindOf(err) {
	case faults.KindRateLimit:
		p.limiter.OnRateLimited(faults.RetryAfterOf(err))
		p.logger.Warn("rate limited; rate reduced",
			"path", row.Path, "retry_after", faults.RetryAfterOf(err))
		return p.recordOutcome(ctx, false)

	case faults.KindCreditExhausted:
		p.logger.Warn("credit exhaustion reported by index service", "path", row.Path)
		return ErrCreditPause

	case faults.KindReject:
		p.logger.Info("permanent rejection; failing file",
			"path", row.Path, "error", err)
		if recErr := p.recordOutcome(ctx, false); recErr != nil {
			return recErr
		}
		return p.driveToFailed(ctx, row, err.Error(), stageOf(err, row))

	case faults.KindIntegrity:
		// Data corruption: crash-fail the worker.
		return fmt.Errorf("integrity violation on %s: %w", row.Path, err)

	default: // transient
		if recErr := p.recordOutcome(ctx, false); recErr != nil {
			return recErr
		}
		if p.bump(row.Path) {
			p.logger.Warn("transient failures exhausted; failing file",
				"path", row.Path, "error", err)
			return p.driveToFailed(ctx, row, err.Error(), stageOf(err, row))
		}
		p.logger.Debug("transient failure; will retry",
			"path", row.Path, "error", err)
		return nil
	}
}

func stageOf(err error, row store.FileRecord) string {
	if s := faults.StageOf(err); s != "" {
		return s
	}
	return string(row.State)
}

// startUpload: rate-gate, upload, then drive start_upload recording the
// operation handle.
func (p *Pool) startUpload(ctx context.Context, row store.FileRecord) error {
	if err := p.limiter.Acquire(ctx, p.cfg.UploadTokens); err != nil {
		return faults.Wrap(faults.KindTransient, "upload", err)
	}

	metadata := decodeMetadata(row.MetadataJSON)
	opID, err := p.adapter.Upload(ctx, row.Path, metadata)
	if err != nil {
		return err
	}
	p.limiter.OnSuccess()

	fields := lifecycle.Fields{OperationID: &opID}
	if p.cfg.StoreID != "" {
		storeID := p.cfg.StoreID
		fields.ExternalStore = &storeID
	}

	outcome, err := p.manager.Transition(ctx, row.Path, lifecycle.EventStartUpload,
		transition.Payload{Fields: fields})
	return p.afterTransition(row, lifecycle.EventStartUpload, outcome, err)
}

// pollUpload: observe the remote operation; a file id means the upload
// phase is done and server-side processing owns the row next.
func (p *Pool) pollUpload(ctx context.Context, row store.FileRecord) error {
	if !row.OperationID.Valid {
		// No durable handle: a crash interleaved discovery and upload.
		// The adapter's content-hash idempotency makes re-upload safe, but
		// the row must not sit in uploading forever.
		return faults.New(faults.KindReject, "poll", "uploading row has no operation handle")
	}
	if err := p.limiter.Acquire(ctx, 1); err != nil {
		return faults.Wrap(faults.KindTransient, "poll", err)
	}

	res, err := p.adapter.Poll(ctx, row.OperationID.String)
	if err != nil {
		return err
	}
	p.limiter.OnSuccess()

	switch res.State {
	case index.PollPending:
		return nil // still waiting; re-polled next tick
	case index.PollFailed:
		return p.dispatchFail(ctx, row, lifecycle.EventFailUpload, res.Reason, "upload")
	default: // processing or ready: remote assigned a file id
		fileID := res.FileID
		outcome, err := p.manager.Transition(ctx, row.Path, lifecycle.EventUploadComplete,
			transition.Payload{Fields: lifecycle.Fields{ExternalFileID: &fileID}})
		return p.afterTransition(row, lifecycle.EventUploadComplete, outcome, err)
	}
}

// pollProcessing: observe until the remote reports ready, then the row is
// indexed - terminal.
func (p *Pool) pollProcessing(ctx context.Context, row store.FileRecord) error {
	if !row.OperationID.Valid {
		return faults.New(faults.KindReject, "poll", "processing row has no operation handle")
	}
	if err := p.limiter.Acquire(ctx, 1); err != nil {
		return faults.Wrap(faults.KindTransient, "poll", err)
	}

	res, err := p.adapter.Poll(ctx, row.OperationID.String)
	if err != nil {
		return err
	}
	p.limiter.OnSuccess()

	switch res.State {
	case index.PollPending, index.PollProcessing:
		return nil
	case index.PollFailed:
		return p.dispatchFail(ctx, row, lifecycle.EventFailProcessing, res.Reason, "processing")
	default: // ready
		outcome, err := p.manager.Transition(ctx, row.Path, lifecycle.EventProcessingComplete,
			transition.Payload{})
		if outcome == transition.OutcomeSuccess {
			p.countCompleted()
		}
		return p.afterTransition(row, lifecycle.EventProcessingComplete, outcome, err)
	}
}

// dispatchFail drives a fail_* event carrying the diagnostic.
func (p *Pool) dispatchFail(ctx context.Context, row store.FileRecord, event lifecycle.Event, reason, stage string) error {
	if reason == "" {
		reason = "remote reported failure"
	}
	outcome, err := p.manager.Transition(ctx, row.Path, event, transition.Payload{
		Fields: lifecycle.Fields{LastError: &reason, FailureStage: &stage},
	})
	if outcome == transition.OutcomeSuccess {
		p.countCompleted()
	}
	return p.afterTransition(row, event, outcome, err)
}

// driveToFailed escalates a row to failed via the appropriate fail_* event
// for its current state. Untracked rows have no fail edge; they are left in
// place with the diagnostic recorded for the operator.
func (p *Pool) driveToFailed(ctx context.Context, row store.FileRecord, reason, stage string) error {
	state, _, err := p.store.ReadState(ctx, row.Path)
	if err != nil {
		return err
	}

	var event lifecycle.Event
	switch state {
	case lifecycle.StateUploading:
		event = lifecycle.EventFailUpload
	case lifecycle.StateProcessing:
		event = lifecycle.EventFailProcessing
	default:
		// No legal fail edge from here. Sideline the row for this run so the
		// feeder cannot spin on it; the next run starts it fresh.
		p.sideline(row.Path)
		p.logger.Warn("cannot drive row to failed from its state; sidelined",
			"path", row.Path, "state", state, "reason", reason)
		return nil
	}

	row.State = state
	return p.dispatchFail(ctx, row, event, reason, stage)
}

// afterTransition folds a transition outcome into the pool's bookkeeping.
func (p *Pool) afterTransition(row store.FileRecord, event lifecycle.Event, outcome transition.Outcome, err error) error {
	switch outcome {
	case transition.OutcomeSuccess:
		return nil
	case transition.OutcomeRejectedStale, transition.OutcomeRejectedGuard:
		// Another worker advanced the row, or the claim was outdated.
		// Normal under concurrency; move on.
		p.logger.Debug("transition rejected", "path", row.Path, "event", event, "outcome", outcome)
		return nil
	case transition.OutcomeFailedPostcommit:
		p.markPostcommit(row.Path)
		return nil
	default: // failed_precommit
		if err == nil {
			err = fmt.Errorf("transition %s failed before commit", event)
		}
		if faults.IsIntegrity(err) {
			return err
		}
		return faults.Wrap(faults.KindTransient, string(row.State), err)
	}
}

// decodeMetadata flattens the scanner's metadata JSON into the string map
// the adapter attaches to uploads.
func decodeMetadata(metadataJSON string) map[string]string {
	var raw map[string]any
	if err := json.Unmarshal([]byte(metadataJSON), &raw); err != nil {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = fmt.Sprint(v)
	}
	return out
}

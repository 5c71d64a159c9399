// Package pipeline runs one end-to-end oracle update: fetch the index,
// derive the fee, commit it on-chain, record the outcome. A run is strictly
// sequential and never overlaps another run.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"feeoracle/internal/config"
	"feeoracle/internal/feerate"
	"feeoracle/internal/fetcher"
	"feeoracle/internal/ledger"
	"feeoracle/internal/models"
	"feeoracle/internal/repository"
	"feeoracle/internal/session"
)

// ErrRunInProgress is returned when a trigger fires while a run is active.
// The trigger is dropped, not queued: the writer's nonce-read-then-submit
// sequence is not safe under interleaving.
var ErrRunInProgress = errors.New("pipeline: run already in progress")

type IndexFetcher interface {
	FetchWithRetry(ctx context.Context) (*fetcher.RawSignal, bool)
}

type CommitWriter interface {
	Enabled() bool
	Commit(ctx context.Context, feeRate int, indexValue float64) ledger.CommitResult
}

type Pipeline struct {
	Fetcher IndexFetcher
	Writer  CommitWriter
	Fee     config.FeeConfig
	Repo    repository.RunRepository
	Session *session.Session
	Logger  *zap.Logger
	Now     func() time.Time

	mu sync.Mutex
}

// Run executes one oracle update and always hands exactly one run record to
// the repository, whichever stage failed. Repository write errors are
// logged, never returned; the record itself is still returned to the
// caller.
func (p *Pipeline) Run(ctx context.Context) (*models.OracleRun, error) {
	if !p.mu.TryLock() {
		if p.Logger != nil {
			p.Logger.Warn("oracle run trigger dropped, previous run still active")
		}
		return nil, ErrRunInProgress
	}
	defer p.mu.Unlock()

	now := p.now()
	if p.Logger != nil {
		p.Logger.Info("oracle update started")
	}

	// Skipped holds until a commit outcome replaces it.
	record := &models.OracleRun{
		RunAt:        now,
		CommitStatus: string(ledger.StatusSkipped),
	}

	sig, ok := p.Fetcher.FetchWithRetry(ctx)
	if !ok {
		stage := "fetch"
		record.FailStage = &stage
		p.finishRecord(ctx, record, "index fetch exhausted all attempts")
		if p.Logger != nil {
			p.Logger.Error("oracle update failed, index unavailable")
		}
		return record, nil
	}
	record.FetchOK = true
	record.IndexValue = &sig.Value
	record.IndexText = &sig.Text

	fee := feerate.Compute(p.Fee, sig.Value)
	explanation := feerate.Explain(p.Fee, sig.Value, fee)
	record.FeeRateBps = &fee
	record.FeePercent = decimal.NewNullDecimal(decimal.NewFromInt(int64(fee)).Div(decimal.NewFromInt(100)))
	record.FeeExplanation = explanation
	if p.Logger != nil {
		p.Logger.Info("fee computed",
			zap.Float64("index_value", sig.Value),
			zap.Int("fee_rate_bps", fee),
			zap.String("explanation", explanation),
		)
	}

	result := p.Writer.Commit(ctx, fee, sig.Value)
	record.CommitStatus = string(result.Status)
	if result.TxHash != "" {
		record.TxHash = &result.TxHash
	}
	if result.BlockNumber > 0 {
		record.BlockNumber = &result.BlockNumber
	}
	if result.Reason != "" {
		record.CommitReason = &result.Reason
	}

	p.finishRecord(ctx, record, "")
	if p.Logger != nil {
		p.Logger.Info("oracle update complete",
			zap.String("commit_status", record.CommitStatus),
			zap.String("tx", result.TxHash),
		)
	}
	return record, nil
}

func (p *Pipeline) finishRecord(ctx context.Context, record *models.OracleRun, note string) {
	if p.Session != nil {
		record.SessionAgeMinutes = p.Session.CurrentAge().Minutes()
	}

	detail := map[string]any{
		"extraction_method": "http_identity_rotation",
		"writer_enabled":    p.Writer != nil && p.Writer.Enabled(),
	}
	if note != "" {
		detail["note"] = note
	}
	if raw, err := json.Marshal(detail); err == nil {
		record.Detail = datatypes.JSON(raw)
	}

	if p.Repo == nil {
		return
	}
	// The persistence sink is outside the pipeline's failure domain.
	if err := p.Repo.AppendRun(ctx, record); err != nil && p.Logger != nil {
		p.Logger.Error("run record append failed", zap.Error(err))
	}
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}

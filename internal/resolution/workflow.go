// Package resolution settles wager markets: precondition gate, optional
// evidence upload, settlement, best-effort disbursement, bounded completion
// wait, archive.
package resolution

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wagerline/sync_core/internal/dispatch"
	"github.com/wagerline/sync_core/internal/domain/market"
	"github.com/wagerline/sync_core/internal/fault"
	"github.com/wagerline/sync_core/internal/poll"
	"github.com/wagerline/sync_core/internal/remote"
	"github.com/wagerline/sync_core/pkg/logger"
)

// ErrEvidenceRequired reports that a market cannot be settled without
// approved evidence on record or new evidence supplied with the call.
var ErrEvidenceRequired = fmt.Errorf("%w: approved evidence or new evidence required", fault.ErrPreconditionFailed)

// EvidenceUpload is new proof media supplied with a resolve call.
type EvidenceUpload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Workflow settles markets. Re-running it against an already-settled market
// never re-submits an outcome: it only finishes the remaining completion
// steps.
type Workflow struct {
	remote     remote.CommandService
	dispatcher *dispatch.Dispatcher
	waiter     poll.Waiter
	bucket     string
	log        *logger.Logger
}

// New creates a workflow. The waiter bounds the payout-completion wait
// (order of tens of seconds total).
func New(svc remote.CommandService, dispatcher *dispatch.Dispatcher, waiter poll.Waiter, bucket string, log *logger.Logger) *Workflow {
	if log == nil {
		log = logger.NewDefault("resolution")
	}
	if waiter.Interval == 0 {
		waiter.Interval = 3 * time.Second
	}
	if waiter.MaxAttempts == 0 {
		waiter.MaxAttempts = 10
	}
	if bucket == "" {
		bucket = "evidence"
	}
	return &Workflow{remote: svc, dispatcher: dispatcher, waiter: waiter, bucket: bucket, log: log}
}

// marketRow mirrors the coupons-table columns this workflow reads.
type marketRow struct {
	ID                  string  `json:"id"`
	IsOpen              bool    `json:"is_open"`
	Result              *string `json:"result"`
	PaidOutAt           *string `json:"paid_out_at"`
	Archived            bool    `json:"archived"`
	HasApprovedEvidence bool    `json:"has_approved_evidence"`
}

func (r marketRow) toDomain() market.Market {
	m := market.Market{
		ID:                  r.ID,
		IsOpen:              r.IsOpen,
		Archived:            r.Archived,
		HasApprovedEvidence: r.HasApprovedEvidence,
	}
	if r.Result != nil {
		outcome := market.Outcome(*r.Result)
		m.Result = &outcome
	}
	if r.PaidOutAt != nil {
		if t, err := time.Parse(time.RFC3339, *r.PaidOutAt); err == nil {
			m.PaidOutAt = &t
		}
	}
	return m
}

func (w *Workflow) fetchMarket(ctx context.Context, id string) (market.Market, error) {
	raw, err := w.remote.FetchRow(ctx, remote.TableCoupons, id)
	if err != nil {
		return market.Market{}, fmt.Errorf("fetch market: %w", err)
	}
	var row marketRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return market.Market{}, fmt.Errorf("decode market: %w", err)
	}
	return row.toDomain(), nil
}

// Resolve runs the full settlement sequence for a market.
func (w *Workflow) Resolve(ctx context.Context, marketID string, outcome market.Outcome, evidence *EvidenceUpload) error {
	if !outcome.Valid() {
		return fmt.Errorf("%w: invalid outcome %q", fault.ErrPreconditionFailed, outcome)
	}

	m, err := w.fetchMarket(ctx, marketID)
	if err != nil {
		return err
	}

	if m.Archived {
		return nil
	}

	if m.Settled() {
		// Settlement already recorded; never re-submit. Finish the
		// completion steps the previous run may not have reached.
		w.log.Infof("market %s already settled; resuming completion", marketID)
		return w.awaitAndArchive(ctx, marketID)
	}

	if !m.HasApprovedEvidence && evidence == nil {
		return ErrEvidenceRequired
	}

	var evidenceRef string
	if evidence != nil {
		ref, err := w.uploadEvidence(ctx, marketID, evidence)
		if err != nil {
			return fmt.Errorf("evidence upload step: %w", err)
		}
		evidenceRef = ref
	}

	payload := map[string]any{
		"market_id": marketID,
		"outcome":   string(outcome),
	}
	if evidenceRef != "" {
		payload["evidence_ref"] = evidenceRef
	}
	if _, err := w.dispatcher.Dispatch(ctx, remote.CmdSettleMarket, payload); err != nil {
		return fmt.Errorf("settlement step: %w", err)
	}

	// Settlement is expected to trigger disbursement server-side; this call
	// covers deployments where it does not. Settlement is the authority, so
	// failure here is only logged.
	if _, err := w.dispatcher.Dispatch(ctx, remote.CmdDisburseMarket, map[string]any{"market_id": marketID}); err != nil {
		w.log.WithError(err).Warnf("redundant disbursement for %s failed; continuing", marketID)
	}

	return w.awaitAndArchive(ctx, marketID)
}

// awaitAndArchive waits for the payout marker and archives the market. A
// wait timeout is downgraded to a warning: disbursement may complete later
// and the notification reconciler finishes the archive then.
func (w *Workflow) awaitAndArchive(ctx context.Context, marketID string) error {
	err := w.waiter.Wait(ctx, func(ctx context.Context) (bool, error) {
		m, err := w.fetchMarket(ctx, marketID)
		if err != nil {
			return false, err
		}
		return m.PaidOut(), nil
	})
	if err != nil {
		if fault.IsTimeout(err) {
			w.log.Warnf("payout for %s not confirmed within budget; archive deferred", marketID)
			return nil
		}
		return fmt.Errorf("completion wait step: %w", err)
	}

	if _, err := w.dispatcher.Dispatch(ctx, remote.CmdArchiveMarket, map[string]any{"market_id": marketID}); err != nil {
		return fmt.Errorf("archive step: %w", err)
	}
	return nil
}

func (w *Workflow) uploadEvidence(ctx context.Context, marketID string, evidence *EvidenceUpload) (string, error) {
	name := evidence.Filename
	if name == "" {
		name = uuid.NewString()
	}
	contentType := evidence.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	path := marketID + "/" + name
	return w.remote.UploadObject(ctx, w.bucket, path, evidence.Data, contentType)
}

package resolution

import (
	"context"

	"github.com/tidwall/gjson"

	"github.com/wagerline/sync_core/internal/remote"
	"github.com/wagerline/sync_core/pkg/logger"
)

// Reconciler completes archives that a workflow run deferred. When a coupon
// update arrives showing a settled, paid-out, still-unarchived market, it
// issues the archive command. Combined with the workflow's settled
// short-circuit this makes the sequence safe under timeouts: the archive
// happens exactly once, whenever the payout marker is finally observed.
type Reconciler struct {
	workflow *Workflow
	log      *logger.Logger
}

// NewReconciler creates a reconciler over the same workflow dependencies.
func NewReconciler(workflow *Workflow, log *logger.Logger) *Reconciler {
	if log == nil {
		log = logger.NewDefault("resolution-reconciler")
	}
	return &Reconciler{workflow: workflow, log: log}
}

// HandleEvent inspects a coupons-table event. The payload may be partial, so
// only rows that demonstrably carry the three relevant fields trigger an
// archive; anything else is left to the next full fetch.
func (r *Reconciler) HandleEvent(ctx context.Context, event remote.Event) {
	if event.Table != remote.TableCoupons || event.Type != remote.EventUpdated {
		return
	}

	row := gjson.ParseBytes(event.Row)
	id := row.Get("id").String()
	if id == "" {
		return
	}
	result := row.Get("result")
	paidOut := row.Get("paid_out_at")
	archived := row.Get("archived")
	if !result.Exists() || !paidOut.Exists() || !archived.Exists() {
		return
	}
	if result.Type == gjson.Null || paidOut.Type == gjson.Null || archived.Bool() {
		return
	}

	r.log.Infof("payout observed for market %s; completing archive", id)
	if _, err := r.workflow.dispatcher.Dispatch(ctx, remote.CmdArchiveMarket, map[string]any{"market_id": id}); err != nil {
		r.log.WithError(err).Warnf("deferred archive for %s failed", id)
	}
}

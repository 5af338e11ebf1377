// Package fulfillment drives the order status lifecycle: optimistic status
// update, single-field remote update, owner notification on success,
// rollback without notification on failure.
package fulfillment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wagerline/sync_core/internal/dispatch"
	"github.com/wagerline/sync_core/internal/domain/order"
	"github.com/wagerline/sync_core/internal/fault"
	"github.com/wagerline/sync_core/internal/notify"
	"github.com/wagerline/sync_core/internal/optimistic"
	"github.com/wagerline/sync_core/internal/remote"
	"github.com/wagerline/sync_core/pkg/logger"
)

// template is the owner-facing message for a status change.
type template struct {
	title string
	body  string
}

var statusTemplates = map[order.Status]template{
	order.StatusContacted: {"Order update", "We've reached out about your reward order."},
	order.StatusPreparing: {"Order update", "Your reward is being prepared."},
	order.StatusShipped:   {"Order shipped", "Your reward is on its way."},
	order.StatusDelivered: {"Order delivered", "Your reward has been delivered. Enjoy!"},
	order.StatusCancelled: {"Order cancelled", "Your reward order was cancelled."},
	order.StatusRefunded:  {"Order refunded", "Your reward order was refunded."},
}

var fieldUpdateTemplate = template{"Order update", "Details on your reward order changed."}

// Field names accepted by UpdateField.
const (
	FieldTrackingCode = "tracking_code"
	FieldCustomerNote = "customer_note"
	FieldInternalNote = "internal_note"
)

// Service is the fulfillment state machine over redemption orders.
type Service struct {
	dispatcher *dispatch.Dispatcher
	orders     *optimistic.Controller[order.Order]
	notifier   notify.Notifier
	log        *logger.Logger
}

// New creates the service.
func New(dispatcher *dispatch.Dispatcher, notifier notify.Notifier, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("fulfillment")
	}
	return &Service{
		dispatcher: dispatcher,
		orders:     optimistic.New(optimistic.WithLogger[order.Order](log)),
		notifier:   notifier,
		log:        log,
	}
}

// Seed installs an authoritative order state.
func (s *Service) Seed(o order.Order) {
	s.orders.Seed(o.ID, o)
}

// Order returns the current local view of an order.
func (s *Service) Order(id string) (order.Order, bool) {
	return s.orders.Get(id)
}

// Advance moves an order one step along
// new → contacted → preparing → shipped → delivered.
func (s *Service) Advance(ctx context.Context, id string) (order.Order, error) {
	current, ok := s.orders.Get(id)
	if !ok {
		return order.Order{}, fmt.Errorf("order %s not loaded", id)
	}
	next, ok := order.Next(current.Status)
	if !ok {
		return current, fmt.Errorf("%w: no advance from %s", fault.ErrPreconditionFailed, current.Status)
	}
	return s.transition(ctx, id, next)
}

// Cancel moves an order to cancelled from any non-terminal state.
func (s *Service) Cancel(ctx context.Context, id string) (order.Order, error) {
	return s.operatorTransition(ctx, id, order.StatusCancelled)
}

// Refund moves an order to refunded from any non-terminal state.
func (s *Service) Refund(ctx context.Context, id string) (order.Order, error) {
	return s.operatorTransition(ctx, id, order.StatusRefunded)
}

// ContactAndComplete jumps an order from new or contacted straight to
// delivered, for orders fulfilled out-of-band.
func (s *Service) ContactAndComplete(ctx context.Context, id string) (order.Order, error) {
	current, ok := s.orders.Get(id)
	if !ok {
		return order.Order{}, fmt.Errorf("order %s not loaded", id)
	}
	if !order.CanShortcut(current.Status) {
		return current, fmt.Errorf("%w: contact-and-complete not allowed from %s",
			fault.ErrPreconditionFailed, current.Status)
	}
	return s.transition(ctx, id, order.StatusDelivered)
}

func (s *Service) operatorTransition(ctx context.Context, id string, to order.Status) (order.Order, error) {
	current, ok := s.orders.Get(id)
	if !ok {
		return order.Order{}, fmt.Errorf("order %s not loaded", id)
	}
	if !order.CanTransition(current.Status, to) {
		return current, fmt.Errorf("%w: cannot move from %s to %s",
			fault.ErrPreconditionFailed, current.Status, to)
	}
	return s.transition(ctx, id, to)
}

// transition performs the optimistic status change. The notification fires
// only after the remote update succeeded; a rollback never notifies.
func (s *Service) transition(ctx context.Context, id string, to order.Status) (order.Order, error) {
	err := s.orders.Apply(ctx, id,
		func(o order.Order) order.Order {
			o.Status = to
			o.UpdatedAt = time.Now().UTC()
			return o
		},
		func(ctx context.Context, o order.Order) error {
			_, err := s.dispatcher.Dispatch(ctx, remote.CmdSetOrderStatus, map[string]any{
				"order_id": id,
				"status":   string(to),
			})
			return err
		},
	)

	current, _ := s.orders.Get(id)
	if err != nil {
		return current, fmt.Errorf("set status %s: %w", to, err)
	}

	if tmpl, ok := statusTemplates[to]; ok {
		notify.Send(ctx, s.notifier, notify.Notification{
			UserID:   current.UserID,
			Title:    tmpl.title,
			Body:     tmpl.body,
			Payload:  map[string]any{"order_id": id, "status": string(to)},
			Category: "order_status",
		}, s.log)
	}
	return current, nil
}

// UpdateField changes one auxiliary field with the same
// optimistic-then-confirm discipline, independent of status. The owner is
// notified only when notifyOwner is set and the update succeeded.
func (s *Service) UpdateField(ctx context.Context, id, field, value string, notifyOwner bool) (order.Order, error) {
	apply, err := fieldSetter(field, value)
	if err != nil {
		return order.Order{}, err
	}
	if _, ok := s.orders.Get(id); !ok {
		return order.Order{}, fmt.Errorf("order %s not loaded", id)
	}

	err = s.orders.Apply(ctx, id,
		func(o order.Order) order.Order {
			apply(&o)
			o.UpdatedAt = time.Now().UTC()
			return o
		},
		func(ctx context.Context, o order.Order) error {
			_, err := s.dispatcher.Dispatch(ctx, remote.CmdUpdateOrderField, map[string]any{
				"order_id": id,
				"field":    field,
				"value":    value,
			})
			return err
		},
	)

	current, _ := s.orders.Get(id)
	if err != nil {
		return current, fmt.Errorf("update %s: %w", field, err)
	}

	if notifyOwner {
		notify.Send(ctx, s.notifier, notify.Notification{
			UserID:   current.UserID,
			Title:    fieldUpdateTemplate.title,
			Body:     fieldUpdateTemplate.body,
			Payload:  map[string]any{"order_id": id, "field": field},
			Category: "order_update",
		}, s.log)
	}
	return current, nil
}

func fieldSetter(field, value string) (func(*order.Order), error) {
	switch field {
	case FieldTrackingCode:
		return func(o *order.Order) { o.TrackingCode = value }, nil
	case FieldCustomerNote:
		return func(o *order.Order) { o.CustomerNote = value }, nil
	case FieldInternalNote:
		return func(o *order.Order) { o.InternalNote = value }, nil
	}
	return nil, fmt.Errorf("unknown order field %q", field)
}

// orderRow mirrors the orders-table columns.
type orderRow struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	RewardID     string `json:"reward_id"`
	Status       string `json:"status"`
	TrackingCode string `json:"tracking_code"`
	CustomerNote string `json:"customer_note"`
	InternalNote string `json:"internal_note"`
}

// ReconcileRow overwrites local state from a server row payload.
func (s *Service) ReconcileRow(row json.RawMessage) error {
	var r orderRow
	if err := json.Unmarshal(row, &r); err != nil {
		return fmt.Errorf("decode order row: %w", err)
	}
	if r.ID == "" {
		return fmt.Errorf("order row missing id")
	}

	s.orders.Reconcile(r.ID, order.Order{
		ID:           r.ID,
		UserID:       r.UserID,
		RewardID:     r.RewardID,
		Status:       order.Status(r.Status),
		TrackingCode: r.TrackingCode,
		CustomerNote: r.CustomerNote,
		InternalNote: r.InternalNote,
	})
	return nil
}

// Package remote defines the two narrow interfaces through which the sync
// core reaches durable state: a request/response command service and a
// change-notification stream. Implementations live in the supabase
// subpackage; tests use in-memory fakes.
package remote

import (
	"context"
	"encoding/json"
)

// Named remote procedures consumed by the core.
const (
	CmdSettleMarket     = "settle_market"
	CmdDisburseMarket   = "disburse_market"
	CmdArchiveMarket    = "archive_market"
	CmdSetOrderStatus   = "set_order_status"
	CmdUpdateOrderField = "update_order_field"
	CmdUpsertReaction   = "upsert_reaction"
	CmdRemoveReaction   = "remove_reaction"
	CmdCheckQuota       = "check_quota"
	CmdSubmitCoupon     = "submit_coupon"
)

// Tables the core subscribes to.
const (
	TableCoupons = "coupons"
	TableOrders  = "orders"
	TableProofs  = "proofs"
)

// CommandService executes named remote procedures and table mutations. Calls
// may fail, may be slow, and may apply their effect before returning an
// error; implementations signal that last case with fault.Ambiguous so the
// caller can re-dispatch under the same idempotency key.
type CommandService interface {
	// Invoke calls a named procedure. An empty idempotency key means the
	// call is not safely repeatable.
	Invoke(ctx context.Context, name string, payload any, idempotencyKey string) (json.RawMessage, error)

	// FetchRow reads a single row by primary key.
	FetchRow(ctx context.Context, table, id string) (json.RawMessage, error)

	// UpdateRow patches fields on a single row.
	UpdateRow(ctx context.Context, table, id string, fields map[string]any, idempotencyKey string) error

	// UploadObject stores a blob and returns its reference.
	UploadObject(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error)
}

// EventType classifies a change notification.
type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventDeleted EventType = "deleted"
)

// Event is one per-row change notification. Delivery is at-least-once and
// unordered across tables; within one row's stream, order matches commit
// order at the source. Row may be a partial payload.
type Event struct {
	Table  string
	Type   EventType
	Row    json.RawMessage
	OldRow json.RawMessage
}

// Stream delivers change notifications for subscribed tables.
type Stream interface {
	// Subscribe registers a handler for a table and returns an unsubscribe
	// function. Handlers must not block.
	Subscribe(table string, handler func(Event)) (func(), error)

	// OnReconnect registers a callback fired after the stream re-establishes
	// a dropped connection; events may have been missed before it fires.
	OnReconnect(fn func())
}

package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/wagerline/sync_core/internal/fault"
	"github.com/wagerline/sync_core/internal/remote"
)

// Service implements remote.CommandService against the Supabase REST API.
// Named procedures map to PostgREST RPC endpoints; table mutations map to
// PostgREST row operations; uploads go to the storage API.
type Service struct {
	client *Client

	// readRetries bounds retry attempts for safe (GET) requests.
	readRetries int
	// readBackoff is the delay between read retries.
	readBackoff time.Duration
}

var _ remote.CommandService = (*Service)(nil)

// NewService wraps a client as a command service.
func NewService(client *Client) *Service {
	return &Service{
		client:      client,
		readRetries: 2,
		readBackoff: 250 * time.Millisecond,
	}
}

// Invoke calls a named Postgres function. The idempotency key travels as a
// header the server uses to de-duplicate repeated dispatches.
func (s *Service) Invoke(ctx context.Context, name string, payload any, idempotencyKey string) (json.RawMessage, error) {
	op := "invoke " + name

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fault.Definite(op, fmt.Errorf("marshal payload: %w", err))
	}

	headers := map[string]string{}
	if idempotencyKey != "" {
		headers["Idempotency-Key"] = idempotencyKey
	}

	respBody, status, err := s.client.do(ctx, http.MethodPost, "/rest/v1/rpc/"+name, body, headers)
	return classifyResponse(op, idempotencyKey, respBody, status, err)
}

// FetchRow reads one row by primary key. Reads are safe to retry, so
// transient server errors are retried before giving up.
func (s *Service) FetchRow(ctx context.Context, table, id string) (json.RawMessage, error) {
	op := "fetch " + table

	path := "/rest/v1/" + table + "?id=eq." + url.QueryEscape(id)
	headers := map[string]string{"Accept": "application/vnd.pgrst.object+json"}

	var lastErr error
	for attempt := 0; attempt <= s.readRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fault.Ambiguous(op, "", ctx.Err())
			case <-time.After(s.readBackoff):
			}
		}

		body, status, err := s.client.do(ctx, http.MethodGet, path, nil, headers)
		if err != nil {
			lastErr = err
			continue
		}
		if status >= 500 {
			lastErr = parseError(body, status)
			continue
		}
		if status >= 400 {
			return nil, fault.Definite(op, parseError(body, status))
		}
		return body, nil
	}

	return nil, fault.Ambiguous(op, "", lastErr)
}

// UpdateRow patches fields on a single row.
func (s *Service) UpdateRow(ctx context.Context, table, id string, fields map[string]any, idempotencyKey string) error {
	op := "update " + table

	body, err := json.Marshal(fields)
	if err != nil {
		return fault.Definite(op, fmt.Errorf("marshal fields: %w", err))
	}

	headers := map[string]string{"Prefer": "return=minimal"}
	if idempotencyKey != "" {
		headers["Idempotency-Key"] = idempotencyKey
	}

	path := "/rest/v1/" + table + "?id=eq." + url.QueryEscape(id)
	respBody, status, doErr := s.client.do(ctx, http.MethodPatch, path, body, headers)
	_, err = classifyResponse(op, idempotencyKey, respBody, status, doErr)
	return err
}

// UploadObject stores a blob in the storage API and returns its reference.
func (s *Service) UploadObject(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error) {
	op := "upload " + bucket

	headers := map[string]string{"Content-Type": contentType}
	respBody, status, err := s.client.do(ctx, http.MethodPost, "/storage/v1/object/"+bucket+"/"+path, data, headers)
	if err != nil {
		return "", fault.Ambiguous(op, "", err)
	}
	if status >= 500 {
		return "", fault.Ambiguous(op, "", parseError(respBody, status))
	}
	if status >= 400 {
		return "", fault.Definite(op, parseError(respBody, status))
	}

	return bucket + "/" + path, nil
}

// classifyResponse maps an HTTP outcome onto the fault taxonomy. Transport
// failures and 5xx responses are ambiguous: the server may have applied the
// effect before the reply was lost. 429 is a gate rejection. Remaining 4xx
// responses are definite rejections and safe to roll back from.
func classifyResponse(op, key string, body []byte, status int, err error) (json.RawMessage, error) {
	if err != nil {
		return nil, fault.Ambiguous(op, key, err)
	}
	switch {
	case status >= 500 || status == http.StatusRequestTimeout:
		return nil, fault.Ambiguous(op, key, parseError(body, status))
	case status == http.StatusTooManyRequests:
		return nil, fault.Denied("rate limit exceeded")
	case status >= 400:
		return nil, fault.Definite(op, parseError(body, status))
	}
	return body, nil
}

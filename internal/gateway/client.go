package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parcelmap/server/internal/config"
	"github.com/parcelmap/server/internal/logger"
	"github.com/parcelmap/server/internal/metrics"
)

// ScopeKind selects which collection of parcels a session works on.
type ScopeKind string

const (
	// ScopeFarm addresses a farm's own parcels.
	ScopeFarm ScopeKind = "farm"
	// ScopeImport addresses parcels of an import batch awaiting validation.
	ScopeImport ScopeKind = "import"
)

// Scope identifies the parcel collection. FarmID is required for import
// approvals, which are recorded against the receiving farm.
type Scope struct {
	Kind   ScopeKind
	ID     string
	FarmID string
}

// Client handles communication with the parcel backend
type Client struct {
	baseURL  string
	timeout  time.Duration
	client   *http.Client
	validate *validator.Validate
	log      *zap.SugaredLogger
}

// NewClient creates a new parcel backend client
func NewClient(cfg *config.Config, log *zap.SugaredLogger) *Client {
	return &Client{
		baseURL:  cfg.Gateway.BaseURL,
		timeout:  cfg.Gateway.Timeout,
		validate: validator.New(),
		log:      logger.OrNop(log),
		client: &http.Client{
			Timeout: cfg.Gateway.Timeout,
		},
	}
}

// Scoped binds the client to one parcel collection and the caller's bearer
// token.
func (c *Client) Scoped(scope Scope, token string) *ScopedClient {
	return &ScopedClient{client: c, scope: scope, token: token}
}

// ScopedClient issues requests for a single farm or import batch.
type ScopedClient struct {
	client *Client
	scope  Scope
	token  string
}

// Scope returns the collection this client addresses.
func (s *ScopedClient) Scope() Scope {
	return s.scope
}

func (s *ScopedClient) base() string {
	segment := "farms"
	if s.scope.Kind == ScopeImport {
		segment = "imports"
	}
	return fmt.Sprintf("%s/%s/%s", s.client.baseURL, segment, url.PathEscape(s.scope.ID))
}

// List fetches every parcel in the scope.
func (s *ScopedClient) List(ctx context.Context) ([]ParcelRecord, error) {
	var records []ParcelRecord
	if err := s.do(ctx, "list", http.MethodGet, s.base()+"/parcels", nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Create posts a new parcel and returns the stored record.
func (s *ScopedClient) Create(ctx context.Context, req CreateRequest) (*ParcelRecord, error) {
	if err := s.client.check(req); err != nil {
		return nil, err
	}
	var record ParcelRecord
	if err := s.do(ctx, "create", http.MethodPost, s.base()+"/parcels", req, &record); err != nil {
		return nil, err
	}
	if record.ID == "" {
		return nil, fmt.Errorf("create response carried no id")
	}
	return &record, nil
}

// Update sends a partial update for the parcel.
func (s *ScopedClient) Update(ctx context.Context, id string, req UpdateRequest) error {
	if req.Empty() {
		return ErrEmptyUpdate
	}
	if err := s.client.check(req); err != nil {
		return err
	}
	return s.do(ctx, "update", http.MethodPut, s.base()+"/parcels/"+url.PathEscape(id), req, nil)
}

// Delete removes a parcel. Import batches never delete.
func (s *ScopedClient) Delete(ctx context.Context, id string) error {
	if s.scope.Kind == ScopeImport {
		return ErrDeleteUnsupported
	}
	return s.do(ctx, "delete", http.MethodDelete, s.base()+"/parcels/"+url.PathEscape(id), nil, nil)
}

// Approve validates one imported parcel for the scope's farm.
func (s *ScopedClient) Approve(ctx context.Context, id string) error {
	if s.scope.Kind != ScopeImport {
		return ErrApproveUnsupported
	}
	req := ApproveRequest{ValidationStatus: "validated", FarmID: s.scope.FarmID}
	if err := s.client.check(req); err != nil {
		return err
	}
	path := s.base() + "/imported-parcels/" + url.PathEscape(id) + "/validate"
	return s.do(ctx, "approve", http.MethodPatch, path, req, nil)
}

func (c *Client) check(req interface{}) error {
	err := c.validate.Struct(req)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		fields := make([]string, 0, len(ve))
		for _, fe := range ve {
			fields = append(fields, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
		}
		return &ValidationError{Fields: fields}
	}
	return fmt.Errorf("failed to validate request: %w", err)
}

// do performs one request. No retries: callers treat failures as final.
func (s *ScopedClient) do(ctx context.Context, op, method, endpoint string, body, out interface{}) error {
	start := time.Now()
	err := s.roundTrip(ctx, op, method, endpoint, body, out)

	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.GatewayRequestsTotal.WithLabelValues(op, result).Inc()
	metrics.GatewayDurationMs.WithLabelValues(op).Observe(float64(time.Since(start).Microseconds()) / 1000)
	return err
}

func (s *ScopedClient) roundTrip(ctx context.Context, op, method, endpoint string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", op, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			s.client.log.Warnw("failed to close gateway response body", "op", op, "error", closeErr)
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	return nil
}

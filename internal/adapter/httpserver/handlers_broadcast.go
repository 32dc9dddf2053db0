package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/pscheid92/fanout/internal/broadcast"
	apperrors "github.com/pscheid92/fanout/internal/platform/errors"
)

const maxBroadcastBody = 1 << 20

type broadcastRequest struct {
	Data     json.RawMessage `json:"data"`
	Endpoint string          `json:"endpoint"`
	Tenant   string          `json:"tenant"`
}

type broadcastResponse struct {
	Message    string `json:"message"`
	Recipients int    `json:"recipients"`
	Pruned     int    `json:"pruned"`
}

func (s *Server) registerBroadcastRoutes() {
	limiter := newBroadcastLimiter(s.config)
	s.echo.POST("/broadcast", s.handleBroadcast, limiter)
}

func (s *Server) handleBroadcast(c echo.Context) error {
	var req broadcastRequest
	body := http.MaxBytesReader(c.Response(), c.Request().Body, maxBroadcastBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return apperrors.ValidationError("invalid JSON body").WithField("cause", err.Error())
	}

	payload, err := payloadFromData(req.Data)
	if err != nil {
		return apperrors.ValidationError(err.Error())
	}

	endpoints, err := s.targetEndpoints(req.Endpoint)
	if err != nil {
		return err
	}

	result, err := s.broadcastTo(c.Request().Context(), endpoints, broadcast.Request{Payload: payload, Tenant: req.Tenant})
	if err != nil {
		appErr := apperrors.InternalError(err.Error(), err).
			WithField("endpoint", strings.Join(endpoints, ",")).
			WithField("recipients", result.Delivered).
			WithField("pruned", result.Pruned).
			WithField("failed", result.Failed)
		if errors.Is(err, broadcast.ErrDirectoryUnavailable) {
			appErr = appErr.WithField("directory_unavailable", true)
		}
		return appErr
	}

	resp := broadcastResponse{Message: "Data sent.", Recipients: result.Delivered, Pruned: result.Pruned}
	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

// targetEndpoints resolves the request's endpoint. An empty endpoint selects
// every configured one, since each only reaches the records it owns.
func (s *Server) targetEndpoints(endpoint string) ([]string, error) {
	if endpoint != "" {
		if _, ok := s.broadcasters[endpoint]; !ok {
			return nil, apperrors.ValidationError("unknown broadcast endpoint").WithField("endpoint", endpoint)
		}
		return []string{endpoint}, nil
	}

	endpoints := s.configuredEndpoints()
	if len(endpoints) == 0 {
		return nil, apperrors.InternalError("no broadcast endpoint configured", nil)
	}
	return endpoints, nil
}

// broadcastTo runs the broadcast on each endpoint in turn and sums the results.
// Every endpoint is attempted even when an earlier one fails.
func (s *Server) broadcastTo(ctx context.Context, endpoints []string, req broadcast.Request) (broadcast.Result, error) {
	if len(endpoints) == 1 {
		return s.broadcasters[endpoints[0]].Broadcast(ctx, req)
	}

	var (
		total broadcast.Result
		errs  []error
	)
	for _, name := range endpoints {
		result, err := s.broadcasters[name].Broadcast(ctx, req)
		total.Candidates += result.Candidates
		total.Delivered += result.Delivered
		total.Pruned += result.Pruned
		total.EvictionFailures += result.EvictionFailures
		total.Failed += result.Failed
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return total, errors.Join(errs...)
}

// payloadFromData turns the request's data field into the bytes sent to each
// connection. A JSON string is sent as its text; any other value as compact JSON.
func payloadFromData(data json.RawMessage) ([]byte, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, errors.New("missing data")
	}

	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, fmt.Errorf("decode data: %w", err)
		}
		return []byte(s), nil
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return nil, fmt.Errorf("compact data: %w", err)
	}
	return buf.Bytes(), nil
}

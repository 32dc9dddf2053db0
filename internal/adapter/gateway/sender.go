// Package gateway delivers payloads through an HTTP connection-management
// API, where each connection is addressed as {endpoint}/@connections/{id}.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pscheid92/fanout/internal/domain"
)

const httpCallTimeout = 10 * time.Second

var errConnectionGone = errors.New("connection no longer exists")

// Sender posts the raw payload to the management API of the gateway that
// holds the client connections.
type Sender struct {
	endpoint string
	client   *http.Client
}

var _ domain.Sender = (*Sender)(nil)

// NewSender creates a sender for endpoint. A nil client gets a default one.
func NewSender(endpoint string, client *http.Client) *Sender {
	if client == nil {
		client = &http.Client{Timeout: httpCallTimeout}
	}
	return &Sender{endpoint: strings.TrimRight(endpoint, "/"), client: client}
}

func (s *Sender) Deliver(ctx context.Context, connectionID string, payload []byte) error {
	target := s.endpoint + "/@connections/" + url.PathEscape(connectionID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return domain.OtherError(connectionID, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := s.client.Do(req)
	if err != nil {
		return domain.OtherError(connectionID, fmt.Errorf("post to connection: %w", err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusGone, resp.StatusCode == http.StatusNotFound:
		return domain.GoneError(connectionID, fmt.Errorf("%w: status %d", errConnectionGone, resp.StatusCode))
	default:
		return domain.OtherError(connectionID, fmt.Errorf("gateway returned status %d", resp.StatusCode))
	}
}

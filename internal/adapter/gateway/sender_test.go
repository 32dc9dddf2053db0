package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pscheid92/fanout/internal/domain"
)

func TestSender_Deliver(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	sender := NewSender(srv.URL+"/prod/", nil)
	require.NoError(t, sender.Deliver(context.Background(), "abc=/1", []byte("hello")))

	assert.Equal(t, "/prod/@connections/abc=%2F1", gotPath)
	assert.Equal(t, "hello", gotBody)
}

func TestSender_Classification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   domain.DeliveryKind
		ok     bool
	}{
		{"ok", http.StatusOK, 0, true},
		{"no content", http.StatusNoContent, 0, true},
		{"gone", http.StatusGone, domain.KindGone, false},
		{"not found", http.StatusNotFound, domain.KindGone, false},
		{"throttled", http.StatusTooManyRequests, domain.KindOther, false},
		{"forbidden", http.StatusForbidden, domain.KindOther, false},
		{"server error", http.StatusInternalServerError, domain.KindOther, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			t.Cleanup(srv.Close)

			err := NewSender(srv.URL, nil).Deliver(context.Background(), "conn-1", []byte("x"))
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.want, domain.KindOf(err))
		})
	}
}

func TestSender_TimeoutIsOther(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := NewSender(srv.URL, nil).Deliver(ctx, "conn-1", []byte("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDeliveryFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSender_UnreachableIsOther(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := NewSender(url, nil).Deliver(context.Background(), "conn-1", []byte("x"))
	assert.Equal(t, domain.KindOther, domain.KindOf(err))
}

package connector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConnector struct {
	output map[string]any
	err    error
}

func (s *stubConnector) Invoke(ctx context.Context, inv Invocation) (Result, error) {
	return Result{Output: s.output}, s.err
}

func TestRegistry_InvokeDispatchesToRegisteredConnector(t *testing.T) {
	reg := NewRegistry()
	reg.Register("virustotal", &stubConnector{output: map[string]any{"malicious": true}})

	res, err := reg.Invoke(context.Background(), Invocation{ConnectorID: "virustotal", ActionType: "lookup_ip"})
	require.NoError(t, err)
	assert.Equal(t, true, res.Output["malicious"])
}

func TestRegistry_InvokeUnknownConnectorErrors(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Invoke(context.Background(), Invocation{ConnectorID: "nope"})
	var target *ErrUnknownConnector
	require.ErrorAs(t, err, &target)
}

func TestRegistry_InvokeHonorsDeadline(t *testing.T) {
	reg := NewRegistry()
	blocking := &blockingConnector{}
	reg.Register("slow", blocking)

	_, err := reg.Invoke(context.Background(), Invocation{
		ConnectorID: "slow",
		Deadline:    time.Now().Add(10 * time.Millisecond),
	})
	require.Error(t, err)
}

type blockingConnector struct{}

func (b *blockingConnector) Invoke(ctx context.Context, inv Invocation) (Result, error) {
	<-ctx.Done()
	return Result{}, ctx.Err()
}

func TestHTTPConnector_InvokeRoundTrips(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"output":{"blocked":true}}`))
	}))
	defer srv.Close()

	c := &HTTPConnector{BaseURL: srv.URL}
	res, err := c.Invoke(context.Background(), Invocation{ConnectorID: "firewall", ActionType: "block_ip"})
	require.NoError(t, err)
	assert.Equal(t, true, res.Output["blocked"])
}

func TestHTTPConnector_NonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	}))
	defer srv.Close()

	c := &HTTPConnector{BaseURL: srv.URL}
	_, err := c.Invoke(context.Background(), Invocation{ConnectorID: "firewall", ActionType: "block_ip"})
	require.Error(t, err)
}

package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// HTTPConnector adapts a connector reachable over HTTP/JSON: it POSTs
// {action_type, inputs} to BaseURL and expects {output: {...}} back. This
// is the out-of-process shape concrete connectors (VirusTotal, a
// firewall's management API, Slack) take in a real deployment — the
// engine only ever talks to the Connector interface above.
type HTTPConnector struct {
	BaseURL string
	Client  *http.Client
}

type httpRequestBody struct {
	ActionType string         `json:"action_type"`
	Inputs     map[string]any `json:"inputs"`
}

type httpResponseBody struct {
	Output map[string]any `json:"output"`
	Error  string         `json:"error,omitempty"`
}

// Invoke implements Connector.
func (h *HTTPConnector) Invoke(ctx context.Context, inv Invocation) (Result, error) {
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}

	body, err := json.Marshal(httpRequestBody{ActionType: inv.ActionType, Inputs: inv.Inputs})
	if err != nil {
		return Result{}, fmt.Errorf("connector: encode request for %q: %w", inv.ConnectorID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("connector: build request for %q: %w", inv.ConnectorID, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("connector: call %q: %w", inv.ConnectorID, err)
	}
	defer resp.Body.Close()

	var parsed httpResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, fmt.Errorf("connector: decode response from %q: %w", inv.ConnectorID, err)
	}

	if resp.StatusCode >= 300 || parsed.Error != "" {
		return Result{}, fmt.Errorf("connector: %q returned status %d: %s", inv.ConnectorID, resp.StatusCode, parsed.Error)
	}

	return Result{Output: parsed.Output}, nil
}

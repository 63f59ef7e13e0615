package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/onex/noderuntime/internal/contract"
)

// RESTHandler executes rest-protocol operations over a pooled HTTP client,
// grounded on cellorg's internal/storage.HTTPClient construction pattern:
// one *http.Client per node, sized from the contract's connection timeout
// rather than per-call.
type RESTHandler struct {
	baseURL string
	client  *http.Client
}

// NewRESTHandler constructs an uninitialized REST handler; Init binds it
// to a contract's Connection.
func NewRESTHandler() *RESTHandler {
	return &RESTHandler{}
}

func (h *RESTHandler) Init(ctx context.Context, conn contract.Connection) error {
	timeout := 30 * time.Second
	if conn.TimeoutMS > 0 {
		timeout = time.Duration(conn.TimeoutMS) * time.Millisecond
	}
	transport := &http.Transport{
		MaxIdleConns:        conn.PoolMaxConns,
		MaxIdleConnsPerHost: conn.PoolMaxConns,
	}
	if conn.TLS != nil {
		tlsCfg, err := buildTLSConfig(*conn.TLS)
		if err != nil {
			return fmt.Errorf("rest handler: %w", err)
		}
		transport.TLSClientConfig = tlsCfg
	}
	h.baseURL = strings.TrimSuffix(conn.URL, "/")
	h.client = &http.Client{Timeout: timeout, Transport: transport}
	return nil
}

func (h *RESTHandler) Execute(ctx context.Context, req Request) Response {
	return timed(func() Response {
		if req.REST == nil {
			return Response{Err: fmt.Errorf("rest handler: request has no REST call")}
		}
		call := req.REST

		u := h.baseURL + call.Path
		if len(call.Query) > 0 {
			q := url.Values{}
			for k, v := range call.Query {
				q.Set(k, v)
			}
			u += "?" + q.Encode()
		}

		var bodyReader io.Reader
		if call.Body != nil {
			encoded, err := json.Marshal(call.Body)
			if err != nil {
				return Response{Err: fmt.Errorf("rest handler: encode body: %w", err)}
			}
			bodyReader = bytes.NewReader(encoded)
		}

		httpReq, err := http.NewRequestWithContext(ctx, call.Method, u, bodyReader)
		if err != nil {
			return Response{Err: fmt.Errorf("rest handler: build request: %w", err)}
		}
		if bodyReader != nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}
		for k, v := range call.Headers {
			httpReq.Header.Set(k, v)
		}

		resp, err := h.client.Do(httpReq)
		if err != nil {
			return Response{Err: fmt.Errorf("rest handler: %w", err)}
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return Response{StatusCode: resp.StatusCode, Err: fmt.Errorf("rest handler: read response: %w", err)}
		}

		var data interface{}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &data); err != nil {
				data = map[string]interface{}{"raw": string(raw)}
			}
		}

		return Response{
			Success:    resp.StatusCode >= 200 && resp.StatusCode < 300,
			StatusCode: resp.StatusCode,
			Data:       data,
		}
	})
}

func (h *RESTHandler) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL, nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("rest handler: health check: %w", err)
	}
	defer resp.Body.Close()
	return nil
}

func (h *RESTHandler) Shutdown(ctx context.Context) error {
	h.client.CloseIdleConnections()
	return nil
}

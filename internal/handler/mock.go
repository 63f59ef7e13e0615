package handler

import (
	"context"

	"github.com/onex/noderuntime/internal/contract"
)

// MockHandler is the in-memory handler substituted for every protocol
// kind under the local-dev runtime profile and used by simulate-workflow
// to replay a recorded envelope sequence without touching any external
// system.
//
// By default it echoes the rendered request back as successful data;
// tests can instead script fixed responses keyed by operation name via
// Script (simulate-workflow uses the default echo).
type MockHandler struct {
	// Script maps operation name to the Response MockHandler returns for
	// that operation; an operation absent from Script gets the default
	// echo response.
	Script map[string]Response
}

func (h *MockHandler) Init(ctx context.Context, conn contract.Connection) error { return nil }

func (h *MockHandler) Execute(ctx context.Context, req Request) Response {
	return timed(func() Response {
		if h.Script != nil {
			if resp, ok := h.Script[req.Operation]; ok {
				return resp
			}
		}
		return Response{
			Success:    true,
			StatusCode: 200,
			Data:       echoData(req),
		}
	})
}

func (h *MockHandler) Health(ctx context.Context) error   { return nil }
func (h *MockHandler) Shutdown(ctx context.Context) error { return nil }

func echoData(req Request) interface{} {
	switch {
	case req.REST != nil:
		return map[string]interface{}{"method": req.REST.Method, "path": req.REST.Path, "body": req.REST.Body}
	case req.Cypher != nil:
		return map[string]interface{}{"params": req.Cypher.Params}
	case req.SQL != nil:
		return map[string]interface{}{"params": req.SQL.Params}
	case req.Produce != nil:
		return map[string]interface{}{"topic": req.Produce.Topic, "key": req.Produce.Key}
	default:
		return nil
	}
}

package executor

import (
	"fmt"

	"github.com/onex/noderuntime/internal/contract"
	"github.com/onex/noderuntime/internal/handler"
	"github.com/onex/noderuntime/internal/substitute"
)

// buildRequest resolves an operation's request_template via the
// substitutor, dispatching on the template's concrete tagged-union
// type.
func buildRequest(op *contract.Operation, b substitute.Bindings) (handler.Request, error) {
	switch t := op.Request.(type) {
	case contract.RESTTemplate:
		return buildRESTRequest(op.Name, t, b)
	case contract.CypherTemplate:
		return buildCypherRequest(op.Name, t, b)
	case contract.SQLTemplate:
		return buildSQLRequest(op.Name, t, b)
	case contract.ProduceTemplate:
		return buildProduceRequest(op.Name, t, b)
	default:
		return handler.Request{}, fmt.Errorf("unhandled request template type %T", op.Request)
	}
}

func buildRESTRequest(opName string, t contract.RESTTemplate, b substitute.Bindings) (handler.Request, error) {
	method, err := substitute.RenderString(t.Method, b)
	if err != nil {
		return handler.Request{}, fmt.Errorf("method: %w", err)
	}
	path, err := substitute.RenderString(t.Path, b)
	if err != nil {
		return handler.Request{}, fmt.Errorf("path: %w", err)
	}
	query, err := substitute.RenderStringMap(t.Query, b)
	if err != nil {
		return handler.Request{}, fmt.Errorf("query: %w", err)
	}
	headers, err := substitute.RenderStringMap(t.Headers, b)
	if err != nil {
		return handler.Request{}, fmt.Errorf("headers: %w", err)
	}
	var body interface{}
	if t.Body != nil {
		body, err = substitute.RenderTree(t.Body, b)
		if err != nil {
			return handler.Request{}, fmt.Errorf("body: %w", err)
		}
	}
	return handler.Request{
		Operation: opName,
		REST: &handler.RESTCall{
			Method:  stringifyOrEmpty(method),
			Path:    stringifyOrEmpty(path),
			Query:   query,
			Headers: headers,
			Body:    body,
		},
	}, nil
}

// buildCypherRequest renders every ParamMapping entry as a bound
// parameter value; Query itself is never templated — it is structural
// text from the contract.
func buildCypherRequest(opName string, t contract.CypherTemplate, b substitute.Bindings) (handler.Request, error) {
	params := make(map[string]interface{}, len(t.ParamMapping))
	for name, ref := range t.ParamMapping {
		v, err := substitute.RenderString(ref, b)
		if err != nil {
			return handler.Request{}, fmt.Errorf("param %q: %w", name, err)
		}
		params[name] = v
	}
	return handler.Request{
		Operation: opName,
		Cypher:    &handler.CypherCall{Query: t.Query, Params: params},
	}, nil
}

func buildSQLRequest(opName string, t contract.SQLTemplate, b substitute.Bindings) (handler.Request, error) {
	params := make([]interface{}, len(t.ParamMapping))
	for i, ref := range t.ParamMapping {
		v, err := substitute.RenderString(ref, b)
		if err != nil {
			return handler.Request{}, fmt.Errorf("param %d: %w", i+1, err)
		}
		params[i] = v
	}
	return handler.Request{
		Operation: opName,
		SQL:       &handler.SQLCall{Statement: t.Statement, Params: params},
	}, nil
}

func buildProduceRequest(opName string, t contract.ProduceTemplate, b substitute.Bindings) (handler.Request, error) {
	topic, err := substitute.RenderString(t.Topic, b)
	if err != nil {
		return handler.Request{}, fmt.Errorf("topic: %w", err)
	}
	key := ""
	if t.Key != "" {
		rendered, err := substitute.RenderString(t.Key, b)
		if err != nil {
			return handler.Request{}, fmt.Errorf("key: %w", err)
		}
		key = stringifyOrEmpty(rendered)
	}
	if key == "" {
		key = b.CorrelationID
	}
	headers, err := substitute.RenderStringMap(t.Headers, b)
	if err != nil {
		return handler.Request{}, fmt.Errorf("headers: %w", err)
	}
	return handler.Request{
		Operation: opName,
		Produce: &handler.ProduceCall{
			Topic:   stringifyOrEmpty(topic),
			Key:     key,
			Headers: headers,
			Value:   b.Input,
		},
	}, nil
}

func stringifyOrEmpty(v interface{}) string {
	s, _ := v.(string)
	return s
}

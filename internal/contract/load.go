// Loader and validator: turns a YAML contract document into a frozen,
// validated Contract. The document format itself is external (any
// declarative key-value tree); this loader rejects anything that does
// not parse into a plain tree of strings, numbers, booleans, sequences,
// and mappings.
package contract

import (
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

// topicPattern matches the four-part topic naming schema.
var topicPattern = regexp.MustCompile(`^onex\.[a-z]+\.(cmd|evt|state|log|error)\.v\d+$`)

// registeredProtocols is the fixed set of protocol kinds the runtime knows
// how to bind a Handler for.
var registeredProtocols = map[ProtocolKind]bool{
	ProtocolREST:          true,
	ProtocolGraphCypher:   true,
	ProtocolSQL:           true,
	ProtocolBrokerProduce: true,
}

// Load parses and validates a contract document's bytes.
func Load(data []byte) (*Contract, error) {
	var tree interface{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("contract: document does not parse into a plain tree: %w", err)
	}
	raw, ok := normalize(tree).(map[string]interface{})
	if !ok {
		return nil, &SchemaError{FieldPath: "$", Message: "document root must be a mapping"}
	}
	declOrder, err := operationDeclarationOrder(data)
	if err != nil {
		return nil, err
	}
	return validate(raw, declOrder)
}

// operationDeclarationOrder recovers the "operations" mapping's key order
// from the document's node tree: yaml.Unmarshal into
// map[string]interface{} loses key order, but a *yaml.Node mapping node
// keeps its keys and values as an alternating Content slice in document
// order.
func operationDeclarationOrder(data []byte) ([]string, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("contract: document does not parse into a plain tree: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, nil
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != "operations" {
			continue
		}
		opsNode := root.Content[i+1]
		if opsNode.Kind != yaml.MappingNode {
			return nil, nil
		}
		order := make([]string, 0, len(opsNode.Content)/2)
		for j := 0; j+1 < len(opsNode.Content); j += 2 {
			order = append(order, opsNode.Content[j].Value)
		}
		return order, nil
	}
	return nil, nil
}

// normalize converts yaml.v3's interface{} tree (which may contain
// map[string]interface{} already, but can nest []interface{} with further
// maps) into the uniform map[string]interface{}/[]interface{} shape the
// rest of this package assumes.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}

func validate(raw map[string]interface{}, declOrder []string) (*Contract, error) {
	nodeID, err := getString(raw, "node_id")
	if err != nil {
		return nil, err
	}

	versionRaw, err := getMap(raw, "version")
	if err != nil {
		return nil, err
	}
	version, err := validateVersion(versionRaw)
	if err != nil {
		return nil, err
	}

	kindStr, err := getString(raw, "kind")
	if err != nil {
		return nil, err
	}
	kind := Kind(kindStr)
	switch kind {
	case KindCompute, KindEffect, KindReducer, KindOrchestrator:
	default:
		return nil, &SchemaError{FieldPath: "kind", Message: fmt.Sprintf("unknown kind %q", kindStr)}
	}

	protocolStr, err := getString(raw, "protocol_kind")
	if err != nil {
		return nil, err
	}
	protocolKind := ProtocolKind(protocolStr)
	if !registeredProtocols[protocolKind] {
		return nil, &SchemaError{FieldPath: "protocol_kind", Message: fmt.Sprintf("protocol %q is not registered", protocolStr)}
	}

	connRaw, err := getMap(raw, "connection")
	if err != nil {
		return nil, err
	}
	connection := parseConnection(connRaw)

	opsRaw, err := getMap(raw, "operations")
	if err != nil {
		return nil, err
	}
	if len(opsRaw) == 0 {
		return nil, &SchemaError{FieldPath: "operations", Message: "at least one operation is required"}
	}
	operations, order, err := parseOperations(opsRaw, protocolKind, declOrder)
	if err != nil {
		return nil, err
	}

	resilienceRaw, _ := raw["resilience"].(map[string]interface{})
	resilience := parseResilience(resilienceRaw)

	subscribeTopic, err := getTopicString(raw, "subscribe_topic")
	if err != nil {
		return nil, err
	}
	successTopic, err := getTopicString(raw, "success_topic")
	if err != nil {
		return nil, err
	}
	failureTopic, err := getTopicString(raw, "failure_topic")
	if err != nil {
		return nil, err
	}
	dlqTopic, err := getTopicString(raw, "dlq_topic")
	if err != nil {
		return nil, err
	}

	consumerGroup, err := getString(raw, "consumer_group")
	if err != nil {
		return nil, err
	}

	var dependencies []string
	if deps, ok := raw["dependencies"].([]interface{}); ok {
		for _, d := range deps {
			if s, ok := d.(string); ok {
				dependencies = append(dependencies, s)
			}
		}
	}

	c := &Contract{
		NodeID:         nodeID,
		Version:        version,
		Kind:           kind,
		ProtocolKind:   protocolKind,
		Connection:     connection,
		Operations:     operations,
		OperationOrder: order,
		Resilience:     resilience,
		SubscribeTopic: subscribeTopic,
		SuccessTopic:   successTopic,
		FailureTopic:   failureTopic,
		DLQTopic:       dlqTopic,
		ConsumerGroup:  consumerGroup,
		Dependencies:   dependencies,
	}

	canonical := Canonicalize(raw, "fingerprint")
	recomputed := ComputeFingerprint(version, canonical)
	if declared, ok := raw["fingerprint"]; ok {
		declaredStr, _ := declared.(string)
		if declaredStr != recomputed {
			return nil, &FingerprintMismatchError{NodeID: nodeID, Declared: declaredStr, Recomputed: recomputed}
		}
		c.Fingerprint = declaredStr
	} else {
		// No declared fingerprint: error rather than synthesizing one
		// silently.
		return nil, &SchemaError{FieldPath: "fingerprint", Message: "fingerprint is required; it is never synthesized"}
	}

	return c, nil
}

func validateVersion(m map[string]interface{}) (Version, error) {
	major, err := getInt(m, "major")
	if err != nil {
		return Version{}, fmt.Errorf("version.%w", err)
	}
	minor, err := getInt(m, "minor")
	if err != nil {
		return Version{}, fmt.Errorf("version.%w", err)
	}
	patch, err := getInt(m, "patch")
	if err != nil {
		return Version{}, fmt.Errorf("version.%w", err)
	}
	return Version{Major: major, Minor: minor, Patch: patch}, nil
}

func parseConnection(m map[string]interface{}) Connection {
	var c Connection
	c.URL, _ = m["url"].(string)
	c.Host, _ = m["host"].(string)
	c.Port = intOr(m["port"], 0)
	c.Database, _ = m["database"].(string)
	c.TimeoutMS = intOr(m["timeout_ms"], 0)
	c.PoolMinConns = intOr(m["pool_min_conns"], 0)
	c.PoolMaxConns = intOr(m["pool_max_conns"], 0)
	if brokers, ok := m["brokers"].([]interface{}); ok {
		for _, b := range brokers {
			if s, ok := b.(string); ok {
				c.Brokers = append(c.Brokers, s)
			}
		}
	}
	if tlsRaw, ok := m["tls"].(map[string]interface{}); ok {
		c.TLS = &TLSConfig{
			CAFile:             strOr(tlsRaw["ca_file"]),
			CertFile:           strOr(tlsRaw["cert_file"]),
			KeyFile:            strOr(tlsRaw["key_file"]),
			InsecureSkipVerify: boolOr(tlsRaw["insecure_skip_verify"]),
		}
	}
	if authRaw, ok := m["auth"].(map[string]interface{}); ok {
		c.Auth = &AuthConfig{
			Kind:     strOr(authRaw["kind"]),
			Username: strOr(authRaw["username"]),
			Password: strOr(authRaw["password"]),
			Token:    strOr(authRaw["token"]),
		}
	}
	return c
}

// parseOperations builds each operation and reports them in declaration
// order, for deterministic iteration. declOrder is the "operations"
// mapping's key order as recovered from the
// document's node tree; any key present in m but missing from declOrder
// (shouldn't happen for a document parsed from the same bytes) is
// appended last rather than silently dropped.
func parseOperations(m map[string]interface{}, protocolKind ProtocolKind, declOrder []string) (map[string]*Operation, []string, error) {
	operations := make(map[string]*Operation, len(m))
	order := make([]string, 0, len(m))
	seen := make(map[string]bool, len(m))

	parseOne := func(name string) error {
		v, ok := m[name]
		if !ok {
			return nil
		}
		body, ok := v.(map[string]interface{})
		if !ok {
			return &SchemaError{FieldPath: "operations." + name, Message: "operation body must be a mapping"}
		}
		op, err := parseOperation(name, body, protocolKind)
		if err != nil {
			return err
		}
		operations[name] = op
		order = append(order, name)
		seen[name] = true
		return nil
	}

	for _, name := range declOrder {
		if err := parseOne(name); err != nil {
			return nil, nil, err
		}
	}
	for name := range m {
		if seen[name] {
			continue
		}
		if err := parseOne(name); err != nil {
			return nil, nil, err
		}
	}
	return operations, order, nil
}

func parseOperation(name string, body map[string]interface{}, protocolKind ProtocolKind) (*Operation, error) {
	path := "operations." + name

	desc, _ := body["description"].(string)

	iv := InputValidation{}
	if ivRaw, ok := body["input_validation"].(map[string]interface{}); ok {
		if req, ok := ivRaw["required"].([]interface{}); ok {
			for _, r := range req {
				if s, ok := r.(string); ok {
					iv.Required = append(iv.Required, s)
				}
			}
		}
		if types, ok := ivRaw["types"].(map[string]interface{}); ok {
			iv.Types = make(map[string]string, len(types))
			for k, t := range types {
				if s, ok := t.(string); ok {
					iv.Types[k] = s
				}
			}
		}
	}

	templateRaw, err := getMap(body, "request_template")
	if err != nil {
		return nil, fmt.Errorf("%s.%w", path, err)
	}
	tmpl, err := parseRequestTemplate(protocolKind, templateRaw)
	if err != nil {
		return nil, fmt.Errorf("%s.request_template: %w", path, err)
	}
	if err := validateTemplateRefs(tmpl); err != nil {
		return nil, fmt.Errorf("%s.request_template: %w", path, err)
	}

	mappingRaw, err := getMap(body, "response_mapping")
	if err != nil {
		return nil, fmt.Errorf("%s.%w", path, err)
	}
	mapping := make(map[string]PathExpr, len(mappingRaw))
	for field, exprRaw := range mappingRaw {
		exprStr, ok := exprRaw.(string)
		if !ok {
			return nil, &SchemaError{FieldPath: path + ".response_mapping." + field, Message: "must be a string path expression"}
		}
		pe, err := ParsePathExpression(exprStr)
		if err != nil {
			return nil, &SchemaError{FieldPath: path + ".response_mapping." + field, Message: err.Error()}
		}
		mapping[field] = pe
	}

	var successCodes []int
	if sc, ok := body["success_codes"].([]interface{}); ok {
		for _, v := range sc {
			successCodes = append(successCodes, intOr(v, 0))
		}
	}

	retryable := stringSet(body["retryable_error_set"])
	nonRetryable := stringSet(body["non_retryable_error_set"])

	return &Operation{
		Name:                 name,
		Description:          desc,
		InputValidation:      iv,
		Request:              tmpl,
		ResponseMapping:      mapping,
		SuccessCodes:         successCodes,
		RetryableErrorSet:    retryable,
		NonRetryableErrorSet: nonRetryable,
	}, nil
}

func parseRequestTemplate(protocolKind ProtocolKind, m map[string]interface{}) (RequestTemplate, error) {
	switch protocolKind {
	case ProtocolREST:
		t := RESTTemplate{
			Method:  strOr(m["method"]),
			Path:    strOr(m["path"]),
			Query:   stringMap(m["query"]),
			Headers: stringMap(m["headers"]),
			Body:    m["body"],
		}
		if t.Method == "" {
			return nil, &SchemaError{FieldPath: "method", Message: "required for rest templates"}
		}
		return t, nil
	case ProtocolGraphCypher:
		t := CypherTemplate{
			Query:        strOr(m["query"]),
			ParamMapping: stringMap(m["param_mapping"]),
		}
		if t.Query == "" {
			return nil, &SchemaError{FieldPath: "query", Message: "required for graph-cypher templates"}
		}
		return t, nil
	case ProtocolSQL:
		t := SQLTemplate{Statement: strOr(m["statement"])}
		if pm, ok := m["param_mapping"].([]interface{}); ok {
			for _, v := range pm {
				t.ParamMapping = append(t.ParamMapping, strOr(v))
			}
		}
		if t.Statement == "" {
			return nil, &SchemaError{FieldPath: "statement", Message: "required for sql templates"}
		}
		return t, nil
	case ProtocolBrokerProduce:
		t := ProduceTemplate{
			Topic:   strOr(m["topic"]),
			Key:     strOr(m["key"]),
			Headers: stringMap(m["headers"]),
		}
		if t.Topic == "" {
			return nil, &SchemaError{FieldPath: "topic", Message: "required for broker-produce templates"}
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unhandled protocol kind %q", protocolKind)
	}
}

// validateTemplateRefs walks every template string and checks reference
// prefixes. Cypher's ParamMapping values are themselves binding
// references, not inline substitutions, but they follow the same
// scope-prefix contract so they are checked identically; Cypher's Query
// is deliberately NOT walked — it is structural text, not a
// substitution target.
func validateTemplateRefs(t RequestTemplate) error {
	check := func(v interface{}) error {
		return walkTemplateStrings(v, validateTemplateString)
	}
	switch tmpl := t.(type) {
	case RESTTemplate:
		for _, v := range []interface{}{tmpl.Method, tmpl.Path, tmpl.Query, tmpl.Headers, tmpl.Body} {
			if err := check(v); err != nil {
				return err
			}
		}
	case CypherTemplate:
		for _, v := range tmpl.ParamMapping {
			if err := check(v); err != nil {
				return err
			}
		}
	case SQLTemplate:
		for _, v := range tmpl.ParamMapping {
			if err := check(v); err != nil {
				return err
			}
		}
	case ProduceTemplate:
		for _, v := range []interface{}{tmpl.Topic, tmpl.Key, tmpl.Headers} {
			if err := check(v); err != nil {
				return err
			}
		}
	}
	return nil
}

func parseResilience(m map[string]interface{}) Resilience {
	var r Resilience
	if retryRaw, ok := m["retry"].(map[string]interface{}); ok {
		r.Retry = RetryPolicy{
			MaxAttempts:       intOr(retryRaw["max_attempts"], 1),
			InitialDelayMS:    intOr(retryRaw["initial_delay_ms"], 0),
			MaxDelayMS:        intOr(retryRaw["max_delay_ms"], 0),
			BackoffMultiplier: floatOr(retryRaw["backoff_multiplier"], 1.0),
			Jitter:            boolOr(retryRaw["jitter"]),
		}
	} else {
		r.Retry = RetryPolicy{MaxAttempts: 1, BackoffMultiplier: 1.0}
	}
	if cbRaw, ok := m["circuit_breaker"].(map[string]interface{}); ok {
		r.CircuitBreaker = CircuitBreakerPolicy{
			FailureThreshold:  intOr(cbRaw["failure_threshold"], 1),
			SuccessThreshold:  intOr(cbRaw["success_threshold"], 1),
			OpenTimeoutMS:     intOr(cbRaw["open_timeout_ms"], 0),
			HalfOpenMaxProbes: intOr(cbRaw["half_open_max_probes"], 1),
		}
	} else {
		r.CircuitBreaker = CircuitBreakerPolicy{FailureThreshold: 1, SuccessThreshold: 1, HalfOpenMaxProbes: 1}
	}
	if rlRaw, ok := m["rate_limit"].(map[string]interface{}); ok {
		r.RateLimit = RateLimitPolicy{
			Disabled:          boolOr(rlRaw["disabled"]),
			RequestsPerSecond: floatOr(rlRaw["requests_per_second"], 0),
			Burst:             intOr(rlRaw["burst"], 1),
		}
	} else {
		r.RateLimit = RateLimitPolicy{Disabled: true}
	}
	if toRaw, ok := m["timeout"].(map[string]interface{}); ok {
		r.Timeout = TimeoutPolicy{
			PerRequestMS:   intOr(toRaw["per_request_ms"], 0),
			PerOperationMS: intOr(toRaw["per_operation_ms"], 0),
		}
	}
	if bhRaw, ok := m["bulkhead"].(map[string]interface{}); ok {
		r.Bulkhead = &BulkheadPolicy{MaxConcurrent: intOr(bhRaw["max_concurrent"], 0)}
	}
	return r
}

func getTopicString(m map[string]interface{}, key string) (string, error) {
	s, err := getString(m, key)
	if err != nil {
		return "", err
	}
	if !topicPattern.MatchString(s) {
		return "", &SchemaError{FieldPath: key, Message: fmt.Sprintf("topic %q does not match ^onex\\.<domain>\\.(cmd|evt|state|log|error)\\.v<N>$", s)}
	}
	return s, nil
}

// --- small typed accessors over map[string]interface{} ---

func getString(m map[string]interface{}, key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", &SchemaError{FieldPath: key, Message: "missing required field"}
	}
	s, ok := v.(string)
	if !ok {
		return "", &SchemaError{FieldPath: key, Message: fmt.Sprintf("expected string, got %T", v)}
	}
	return s, nil
}

func getMap(m map[string]interface{}, key string) (map[string]interface{}, error) {
	v, ok := m[key]
	if !ok {
		return nil, &SchemaError{FieldPath: key, Message: "missing required field"}
	}
	mm, ok := v.(map[string]interface{})
	if !ok {
		return nil, &SchemaError{FieldPath: key, Message: fmt.Sprintf("expected mapping, got %T", v)}
	}
	return mm, nil
}

func getInt(m map[string]interface{}, key string) (int, error) {
	v, ok := m[key]
	if !ok {
		return 0, &SchemaError{FieldPath: key, Message: "missing required field"}
	}
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		return int(t), nil
	default:
		return 0, &SchemaError{FieldPath: key, Message: fmt.Sprintf("expected integer, got %T", v)}
	}
}

func intOr(v interface{}, def int) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	default:
		return def
	}
}

func floatOr(v interface{}, def float64) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	default:
		return def
	}
}

func boolOr(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

func strOr(v interface{}) string {
	s, _ := v.(string)
	return s
}

func stringMap(v interface{}) map[string]string {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		out[k] = strOr(val)
	}
	return out
}

func stringSet(v interface{}) map[string]bool {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make(map[string]bool, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out[s] = true
		}
	}
	return out
}

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	apperr "github.com/flowforge/platform/infrastructure/errors"
	"github.com/flowforge/platform/internal/app/domain/flow"
)

// HTTPActionTimeout bounds one http action node call.
const HTTPActionTimeout = 30 * time.Second

const actionBodyLimit = int64(1 << 20) // 1 MiB

// nodeContext carries per-execution state into node dispatch.
type nodeContext struct {
	orgID       string
	userID      string
	triggerData map[string]any
}

// executeNode runs one node and returns its output map. A returned error
// fails the step and halts the plan.
func (s *Service) executeNode(ctx context.Context, nc nodeContext, node flow.Node, inputs map[string]any) (map[string]any, error) {
	switch node.Type {
	case flow.NodeStart, flow.NodeTrigger:
		return nc.triggerData, nil

	case flow.NodeEnd:
		return map[string]any{
			"completed": true,
			"inputs":    inputs,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}, nil

	case flow.NodeCondition:
		condition := stringConfig(node.Config, "condition", "")
		passed, evalErr := evalCondition(condition, inputs)
		out := map[string]any{"passed": passed, "condition": condition}
		if evalErr != "" {
			out["error"] = evalErr
		}
		return out, nil

	case flow.NodeTransform:
		return applyTransform(node, inputs), nil

	default:
		return s.executeAction(ctx, nc, node, inputs)
	}
}

func (s *Service) executeAction(ctx context.Context, nc nodeContext, node flow.Node, inputs map[string]any) (map[string]any, error) {
	if strings.Contains(node.Type, ".") {
		return s.executeProviderAction(ctx, nc, node, inputs)
	}

	switch node.Kind {
	case flow.KindHTTP:
		return s.executeHTTPAction(ctx, node)

	case flow.KindEmail:
		return s.executeEmailAction(ctx, node)

	case flow.KindDatabase:
		return map[string]any{
			"executed":  true,
			"operation": stringConfig(node.Config, "operation", "query"),
		}, nil

	case flow.KindSalesforce:
		return map[string]any{
			"synced": true,
			"object": stringConfig(node.Config, "object", ""),
		}, nil

	case flow.KindScript:
		return s.scripts.Run(ctx, stringConfig(node.Config, "code", ""), inputs)

	default:
		return nil, apperr.Validation(fmt.Sprintf("unrecognized action %q (kind %q)", node.Type, node.Kind))
	}
}

// evalCondition is the shipped total evaluator: the literal strings "true"
// and "false" return themselves; anything else passes iff the input map is
// non-empty. Evaluation never fails the step.
func evalCondition(condition string, inputs map[string]any) (bool, string) {
	switch strings.TrimSpace(condition) {
	case "true":
		return true, ""
	case "false":
		return false, ""
	default:
		return len(inputs) > 0, ""
	}
}

func applyTransform(node flow.Node, inputs map[string]any) map[string]any {
	switch stringConfig(node.Config, "transformation", "passthrough") {
	case "merge":
		merged := map[string]any{}
		for _, value := range inputs {
			if m, ok := value.(map[string]any); ok {
				for k, v := range m {
					merged[k] = v
				}
			}
		}
		return merged

	case "extract":
		fields := stringSliceConfig(node.Config, "fields")
		encoded, err := json.Marshal(mergeInputs(inputs))
		if err != nil {
			return map[string]any{}
		}
		doc := string(encoded)
		extracted := make(map[string]any, len(fields))
		for _, field := range fields {
			if result := gjson.Get(doc, field); result.Exists() {
				extracted[field] = result.Value()
			}
		}
		return extracted

	default: // passthrough
		return inputs
	}
}

func mergeInputs(inputs map[string]any) map[string]any {
	merged := map[string]any{}
	for _, value := range inputs {
		if m, ok := value.(map[string]any); ok {
			for k, v := range m {
				merged[k] = v
			}
		}
	}
	if len(merged) == 0 {
		return inputs
	}
	return merged
}

// executeHTTPAction issues the configured request. Transport errors are fatal
// for the step; protocol errors come back as data so downstream nodes can
// branch on them.
func (s *Service) executeHTTPAction(ctx context.Context, node flow.Node) (map[string]any, error) {
	rawURL := stringConfig(node.Config, "url", "")
	target, err := s.validateURL(rawURL)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}

	method := strings.ToUpper(stringConfig(node.Config, "method", http.MethodGet))

	var reader io.Reader
	if body, ok := node.Config["body"]; ok && body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, apperr.Validation(fmt.Sprintf("encode body: %v", err))
		}
		reader = strings.NewReader(string(encoded))
	}

	ctx, cancel := context.WithTimeout(ctx, HTTPActionTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return nil, apperr.Validation(fmt.Sprintf("build request: %v", err))
	}
	if reader != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if headers, ok := node.Config["headers"].(map[string]any); ok {
		for key, value := range headers {
			req.Header.Set(key, fmt.Sprint(value))
		}
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperr.Timeout(err)
		}
		return nil, apperr.UpstreamUnavailable(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, actionBodyLimit))
	if err != nil {
		return nil, apperr.UpstreamUnavailable(err)
	}

	headerMap := map[string]any{}
	for key := range resp.Header {
		headerMap[key] = resp.Header.Get(key)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return map[string]any{
			"status":  resp.StatusCode,
			"error":   string(payload),
			"headers": headerMap,
		}, nil
	}

	var data any
	if err := json.Unmarshal(payload, &data); err != nil {
		data = string(payload)
	}
	return map[string]any{
		"status":  resp.StatusCode,
		"data":    data,
		"headers": headerMap,
	}, nil
}

func (s *Service) executeEmailAction(ctx context.Context, node flow.Node) (map[string]any, error) {
	if s.mail == nil {
		return nil, apperr.Validation("email actions require a configured mailer")
	}
	to := stringConfig(node.Config, "to", "")
	if to == "" {
		return nil, apperr.Validation("email action requires a recipient")
	}
	subject := stringConfig(node.Config, "subject", "Flow notification")
	body := stringConfig(node.Config, "body", "")
	if err := s.mail.Send(ctx, to, subject, body); err != nil {
		return nil, apperr.UpstreamUnavailable(err)
	}
	return map[string]any{"sent": true, "to": to}, nil
}

func stringConfig(config map[string]any, key, fallback string) string {
	if config == nil {
		return fallback
	}
	if value, ok := config[key]; ok {
		if str, ok := value.(string); ok && strings.TrimSpace(str) != "" {
			return str
		}
	}
	return fallback
}

func stringSliceConfig(config map[string]any, key string) []string {
	if config == nil {
		return nil
	}
	var fields []string
	switch value := config[key].(type) {
	case []string:
		fields = value
	case []any:
		for _, item := range value {
			if str, ok := item.(string); ok {
				fields = append(fields, str)
			}
		}
	}
	return fields
}

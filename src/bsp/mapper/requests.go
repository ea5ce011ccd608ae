// Package mapper converts between wire shapes, context values, and entities.
package mapper

import (
	"encoding/json"
	"fmt"

	"github.com/uber/bsp-go/src/bsp/protocol"
	"go.lsp.dev/jsonrpc2"
)

// UnmarshalParams decodes a request's params, reporting protocol-level error
// codes for missing or malformed payloads.
func UnmarshalParams(req jsonrpc2.Request, out interface{}) error {
	if req.Params() == nil {
		return jsonrpc2.Errorf(jsonrpc2.InvalidParams, "missing params for %q", req.Method())
	}
	if err := json.Unmarshal(req.Params(), out); err != nil {
		return jsonrpc2.Errorf(jsonrpc2.ParseError, "parsing params for %q: %s", req.Method(), err)
	}
	return nil
}

// RequestToInitializeBuildParams extracts InitializeBuildParams from a request.
func RequestToInitializeBuildParams(req jsonrpc2.Request) (*protocol.InitializeBuildParams, error) {
	var params protocol.InitializeBuildParams
	if err := UnmarshalParams(req, &params); err != nil {
		return nil, err
	}
	return &params, nil
}

// RequestToSourcesParams extracts SourcesParams from a request.
func RequestToSourcesParams(req jsonrpc2.Request) (*protocol.SourcesParams, error) {
	var params protocol.SourcesParams
	if err := UnmarshalParams(req, &params); err != nil {
		return nil, err
	}
	return &params, nil
}

// RequestToDependencySourcesParams extracts DependencySourcesParams from a request.
func RequestToDependencySourcesParams(req jsonrpc2.Request) (*protocol.DependencySourcesParams, error) {
	var params protocol.DependencySourcesParams
	if err := UnmarshalParams(req, &params); err != nil {
		return nil, err
	}
	return &params, nil
}

// RequestToCompilerOptionsParams extracts CompilerOptionsParams from a request.
func RequestToCompilerOptionsParams(req jsonrpc2.Request) (*protocol.CompilerOptionsParams, error) {
	var params protocol.CompilerOptionsParams
	if err := UnmarshalParams(req, &params); err != nil {
		return nil, err
	}
	return &params, nil
}

// RequestToCompileParams extracts CompileParams from a request.
func RequestToCompileParams(req jsonrpc2.Request) (*protocol.CompileParams, error) {
	var params protocol.CompileParams
	if err := UnmarshalParams(req, &params); err != nil {
		return nil, err
	}
	return &params, nil
}

// RequestToCancelRequestParams extracts CancelRequestParams from a request.
func RequestToCancelRequestParams(req jsonrpc2.Request) (*protocol.CancelRequestParams, error) {
	var params protocol.CancelRequestParams
	if err := UnmarshalParams(req, &params); err != nil {
		return nil, err
	}
	return &params, nil
}

// TaskDataToCompileTask decodes a taskStart data payload tagged compile-task.
func TaskDataToCompileTask(data json.RawMessage) (*protocol.CompileTask, error) {
	var task protocol.CompileTask
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("parsing compile-task data: %w", err)
	}
	return &task, nil
}

// TaskDataToCompileReport decodes a taskFinish data payload tagged compile-report.
func TaskDataToCompileReport(data json.RawMessage) (*protocol.CompileReport, error) {
	var report protocol.CompileReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("parsing compile-report data: %w", err)
	}
	return &report, nil
}

// MarshalTaskData encodes a typed task data payload for the wire.
func MarshalTaskData(data interface{}) (json.RawMessage, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshalling task data: %w", err)
	}
	return raw, nil
}

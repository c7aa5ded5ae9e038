package protocol

import (
	"encoding/json"
	"fmt"
)

/**
MCP lifecycle as seen by the prediction server:
	The client sends 'initialize' with its protocol version; we answer with our capabilities (tools only)
	and serverInfo. The client acknowledges with the 'notifications/initialized' notification, then asks
	'tools/list' and calls tools with 'tools/call' {"name": "predict_match", "arguments": {...}}.
	Notifications carry no id and get no response.
*/

// MethodType defines the JSON-RPC methods the server understands
type MethodType string

const (
	MethodInitialize    MethodType = "initialize"
	MethodInitialized   MethodType = "notifications/initialized"
	MethodPing          MethodType = "ping"
	MethodToolsList     MethodType = "tools/list"
	MethodToolsCall     MethodType = "tools/call"
	MethodCancelRequest MethodType = "notifications/cancelled"
)

// JsonRpcVersion is the only accepted protocol version
const JsonRpcVersion = "2.0"

// DefaultProtocolVersion is answered when the client does not ask for one
const DefaultProtocolVersion = "2024-11-05"

// JsonRpcRequest is a JSON-RPC 2.0 request or, without an ID, a notification
type JsonRpcRequest struct {
	JsonRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      any             `json:"id,omitempty"`
}

// IsNotification reports whether the request expects no response
func (r *JsonRpcRequest) IsNotification() bool {
	return r.ID == nil
}

// JsonRpcResponse is a JSON-RPC 2.0 response. Exactly one of Result and Error is set.
type JsonRpcResponse struct {
	JsonRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JsonRpcError   `json:"error,omitempty"`
	ID      any             `json:"id"`
}

// JsonRpcError is a JSON-RPC 2.0 error object. It also implements error, so handlers can
// return one to choose the code the client sees.
type JsonRpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard error codes defined by the JSON-RPC 2.0 specification
const (
	ErrParse          = -32700
	ErrInvalidRequest = -32600
	ErrMethodNotFound = -32601
	ErrInvalidParams  = -32602
	ErrInternal       = -32603

	// Tool execution failed; -32000 to -32099 are reserved for implementation errors
	ErrToolExecutionFailed = -32000
)

// Error returns a string representation of the error
func (e *JsonRpcError) Error() string {
	return fmt.Sprintf("jsonrpc error: code=%d message=%s", e.Code, e.Message)
}

// NewJsonRpcError creates an error object usable as a Go error
func NewJsonRpcError(code int, format string, args ...any) *JsonRpcError {
	return &JsonRpcError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ToolProperty describes one tool argument
type ToolProperty struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// InputSchema is the JSON schema of a tool's arguments
type InputSchema struct {
	Type                 string                  `json:"type"`
	Properties           map[string]ToolProperty `json:"properties,omitempty"`
	Required             []string                `json:"required"`
	AdditionalProperties bool                    `json:"additionalProperties"`
}

// Tool is an operation the client may call
type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
}

// ToolsResponse is the result of tools/list
type ToolsResponse struct {
	Tools []Tool `json:"tools"`
}

// ToolCallParams are the params of tools/call
type ToolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Content is one block of a tool result
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolCallResult is the result of tools/call: the tool output as JSON text plus the same value structured
type ToolCallResult struct {
	Content           []Content `json:"content"`
	StructuredContent any       `json:"structuredContent,omitempty"`
	IsError           bool      `json:"isError,omitempty"`
}

// NewJsonRpcErrorResponse creates a new JSON-RPC 2.0 error response
func NewJsonRpcErrorResponse(code int, message string, data any, id any) *JsonRpcResponse {
	return &JsonRpcResponse{
		JsonRPC: JsonRpcVersion,
		Error: &JsonRpcError{
			Code:    code,
			Message: message,
			Data:    data,
		},
		ID: id,
	}
}

// NewJsonRpcResponse creates a new JSON-RPC 2.0 success response
func NewJsonRpcResponse(result any, id any) (*JsonRpcResponse, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &JsonRpcResponse{
		JsonRPC: JsonRpcVersion,
		Result:  resultJSON,
		ID:      id,
	}, nil
}

// ParseJsonRpcRequest parses a JSON-RPC 2.0 request from raw JSON
func ParseJsonRpcRequest(data []byte) (*JsonRpcRequest, error) {
	var req JsonRpcRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, NewJsonRpcError(ErrParse, "parse error: %v", err)
	}
	if req.JsonRPC != JsonRpcVersion {
		return nil, NewJsonRpcError(ErrInvalidRequest, "invalid JSON-RPC version: %s", req.JsonRPC)
	}
	if req.Method == "" {
		return nil, NewJsonRpcError(ErrInvalidRequest, "missing method")
	}
	return &req, nil
}

// String returns a JSON string representation of the request
func (r *JsonRpcRequest) String() string {
	bytes, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf("Error marshaling request: %v", err)
	}
	return string(bytes)
}

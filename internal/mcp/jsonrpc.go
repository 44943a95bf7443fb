// Package mcp implements the JSON-RPC 2.0 envelope types the MCP Request
// Handler (C6) is built on, reconstructed from the teacher's jsonrpc_test.go
// contract: request/response/notification constructors, a sequential
// request-ID generator, and a closed set of JSON-RPC error codes.
package mcp

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
)

// JSONRPCVersion is the only version this package accepts or emits.
const JSONRPCVersion = "2.0"

// Error codes per the JSON-RPC 2.0 spec, plus spec §4.6's closed mapping
// table: "MethodNotFound -> -32601; InvalidParams -> -32602;
// Validation -> -32602; ServerTimeout -> -32001; Internal -> -32603;
// everything else -> -32603." PermissionDenied isn't in that table; it
// takes the next free slot in the -32000..-32099 server-error range
// JSON-RPC 2.0 reserves for implementation-defined codes, distinct from
// ServerTimeout's -32001.
const (
	ParseError       = -32700
	InvalidRequest   = -32600
	MethodNotFound   = -32601
	InvalidParams    = -32602
	InternalError    = -32603
	ServerTimeout    = -32001
	PermissionDenied = -32000
)

// RequestIDGenerator hands out sequential integer IDs for outbound
// requests, starting at 1.
type RequestIDGenerator struct {
	counter int64
}

// NewRequestIDGenerator returns a generator starting before 1.
func NewRequestIDGenerator() *RequestIDGenerator {
	return &RequestIDGenerator{}
}

// Next returns the next sequential ID.
func (g *RequestIDGenerator) Next() int64 {
	return atomic.AddInt64(&g.counter, 1)
}

// Request is a JSON-RPC 2.0 request or notification (ID omitted/nil).
type Request struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      any            `json:"id,omitempty"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
}

// IsNotification reports whether Request carries no ID, per the JSON-RPC
// 2.0 spec's definition of a notification.
func (r Request) IsNotification() bool {
	return r.ID == nil
}

// NewRequest builds a Request carrying id.
func NewRequest(id any, method string, params map[string]any) Request {
	return Request{JSONRPC: JSONRPCVersion, ID: id, Method: method, Params: params}
}

// NewNotification builds an ID-less Request.
func NewNotification(method string, params map[string]any) Request {
	return Request{JSONRPC: JSONRPCVersion, Method: method, Params: params}
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("JSON-RPC error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("JSON-RPC error %d: %s", e.Code, e.Message)
}

// Response is a JSON-RPC 2.0 response: exactly one of Result or Error is
// set.
type Response struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

// IsError reports whether Response carries an error.
func (r Response) IsError() bool { return r.Error != nil }

// NewResponse builds a successful Response.
func NewResponse(id any, result any) Response {
	return Response{JSONRPC: JSONRPCVersion, ID: id, Result: result}
}

// NewErrorResponse builds a failed Response. data may be nil.
func NewErrorResponse(id any, code int, message string, data any) Response {
	return Response{JSONRPC: JSONRPCVersion, ID: id, Error: &RPCError{Code: code, Message: message, Data: data}}
}

// Marshal serializes v (a Request or Response) to JSON.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// UnmarshalRequest parses data as a Request, rejecting any JSON-RPC
// version other than "2.0".
func UnmarshalRequest(data []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, &RPCError{Code: ParseError, Message: "failed to parse request", Data: err.Error()}
	}
	if req.JSONRPC != JSONRPCVersion {
		return Request{}, &RPCError{Code: InvalidRequest, Message: "unsupported jsonrpc version", Data: req.JSONRPC}
	}
	return req, nil
}

// UnmarshalResponse parses data as a Response, rejecting any JSON-RPC
// version other than "2.0".
func UnmarshalResponse(data []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{}, &RPCError{Code: ParseError, Message: "failed to parse response", Data: err.Error()}
	}
	if resp.JSONRPC != JSONRPCVersion {
		return Response{}, &RPCError{Code: InvalidRequest, Message: "unsupported jsonrpc version", Data: resp.JSONRPC}
	}
	return resp, nil
}

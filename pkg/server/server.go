package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/richard-senior/podds/internal/logger"
	"github.com/richard-senior/podds/pkg/protocol"
	"github.com/richard-senior/podds/pkg/transport"
)

// Name and Version are reported to clients on initialize
const (
	Name    = "podds"
	Version = "1.0.0"
)

// HandlerFunc handles one request; params is the decoded request params.
// Returning a *protocol.JsonRpcError selects the error code the client sees.
type HandlerFunc func(ctx context.Context, params any) (any, error)

// Server is a JSON-RPC (MCP) tool server
type Server struct {
	mu        sync.Mutex
	transport transport.Transport
	handlers  map[string]HandlerFunc
	tools     []protocol.Tool
}

// New creates a server with the protocol methods registered and no tools
func New(t transport.Transport) *Server {
	s := &Server{
		transport: t,
		handlers:  make(map[string]HandlerFunc),
		tools:     []protocol.Tool{},
	}
	s.handlers[string(protocol.MethodInitialize)] = s.handleInitialize
	s.handlers[string(protocol.MethodPing)] = s.handlePing
	s.handlers[string(protocol.MethodToolsList)] = s.handleToolsList
	s.handlers[string(protocol.MethodToolsCall)] = s.handleToolsCall
	return s
}

// RegisterTool registers a tool with the server
func (s *Server) RegisterTool(tool protocol.Tool, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tools = append(s.tools, tool)
	s.handlers["tool:"+tool.Name] = handler
	logger.Info("Registered tool:", tool.Name)
}

// GetTools returns the list of registered tools
func (s *Server) GetTools() []protocol.Tool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Tool(nil), s.tools...)
}

func (s *Server) handler(name string) HandlerFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handlers[name]
}

// Start serves until the client disconnects or the process receives SIGINT or SIGTERM
func (s *Server) Start(ctx context.Context) error {
	logger.Info("Starting", Name, "server")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.ProcessRequests(ctx)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		logger.Info("Shutting down:", context.Cause(ctx))
		return nil
	}
}

// ProcessRequests reads and answers requests until the stream ends.
// A clean end of stream returns nil.
func (s *Server) ProcessRequests(ctx context.Context) error {
	for {
		req, err := s.transport.ReadRequest()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			var rpcErr *protocol.JsonRpcError
			if errors.As(err, &rpcErr) {
				// the bad message was consumed, the stream is still in sync
				logger.Warn("Rejected malformed request", rpcErr.Message)
				if werr := s.transport.WriteResponse(&protocol.JsonRpcResponse{JsonRPC: protocol.JsonRpcVersion, Error: rpcErr}); werr != nil {
					return werr
				}
				continue
			}
			return err
		}

		resp := s.handleRequest(ctx, req)
		if resp == nil {
			continue
		}
		if err := s.transport.WriteResponse(resp); err != nil {
			return err
		}
	}
}

// handleRequest dispatches one request. Notifications get no response.
func (s *Server) handleRequest(ctx context.Context, req *protocol.JsonRpcRequest) *protocol.JsonRpcResponse {
	logger.Info(">> ", req.Method)
	logger.Debug("Full request:", req.String())

	if strings.HasPrefix(req.Method, "notifications/") || req.IsNotification() {
		logger.Info("Received notification:", req.Method)
		return nil
	}

	handler := s.handler(req.Method)
	if handler == nil {
		return protocol.NewJsonRpcErrorResponse(protocol.ErrMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method), nil, req.ID)
	}

	var params any
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return protocol.NewJsonRpcErrorResponse(protocol.ErrInvalidParams, "Invalid params: "+err.Error(), nil, req.ID)
		}
	}

	result, err := handler(ctx, params)
	if err != nil {
		logger.Warn("Request failed", req.Method, err)
		var rpcErr *protocol.JsonRpcError
		if errors.As(err, &rpcErr) {
			return protocol.NewJsonRpcErrorResponse(rpcErr.Code, rpcErr.Message, rpcErr.Data, req.ID)
		}
		return protocol.NewJsonRpcErrorResponse(protocol.ErrToolExecutionFailed, err.Error(), nil, req.ID)
	}

	resp, err := protocol.NewJsonRpcResponse(result, req.ID)
	if err != nil {
		return protocol.NewJsonRpcErrorResponse(protocol.ErrInternal, "Failed to marshal result: "+err.Error(), nil, req.ID)
	}
	return resp
}

// decodeParams converts generic params into a typed struct
func decodeParams(params any, into any) error {
	b, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}
	if err := json.Unmarshal(b, into); err != nil {
		return protocol.NewJsonRpcError(protocol.ErrInvalidParams, "invalid params: %v", err)
	}
	return nil
}

func (s *Server) handlePing(ctx context.Context, params any) (any, error) {
	return struct{}{}, nil
}

// handleToolsList handles the tools/list method
func (s *Server) handleToolsList(ctx context.Context, params any) (any, error) {
	return protocol.ToolsResponse{Tools: s.GetTools()}, nil
}

// handleInitialize answers with the protocol version the client asked for and our capabilities
func (s *Server) handleInitialize(ctx context.Context, params any) (any, error) {
	var init struct {
		ProtocolVersion string `json:"protocolVersion"`
	}
	if params != nil {
		if err := decodeParams(params, &init); err != nil {
			return nil, err
		}
	}
	version := init.ProtocolVersion
	if version == "" {
		version = protocol.DefaultProtocolVersion
	}
	logger.Info("Initializing with protocol version", version, "and", len(s.GetTools()), "tools")

	type serverInfo struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	}
	return struct {
		ProtocolVersion string         `json:"protocolVersion"`
		Capabilities    map[string]any `json:"capabilities"`
		ServerInfo      serverInfo     `json:"serverInfo"`
	}{
		ProtocolVersion: version,
		Capabilities:    map[string]any{"tools": map[string]any{"listChanged": false}},
		ServerInfo:      serverInfo{Name: Name, Version: Version},
	}, nil
}

// handleToolsCall runs a tool and wraps its output as MCP content
func (s *Server) handleToolsCall(ctx context.Context, params any) (any, error) {
	var call protocol.ToolCallParams
	if err := decodeParams(params, &call); err != nil {
		return nil, err
	}
	logger.Info("Tool call requested for:", call.Name)

	handler := s.handler("tool:" + call.Name)
	if handler == nil {
		return nil, protocol.NewJsonRpcError(protocol.ErrInvalidParams, "tool not found: %s", call.Name)
	}
	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}

	result, err := handler(ctx, args)
	if err != nil {
		return nil, err
	}
	text, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool result: %w", err)
	}
	return protocol.ToolCallResult{
		Content:           []protocol.Content{{Type: "text", Text: string(text)}},
		StructuredContent: result,
	}, nil
}

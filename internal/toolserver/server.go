package toolserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tazhate/taskseries/internal/service"
)

const protocolVersion = "2024-11-05"

// Server answers line-delimited JSON-RPC requests on a stream pair.
type Server struct {
	series   *service.SeriesService
	tasks    *service.TaskService
	calendar *service.CalendarService
	loc      *time.Location
	log      zerolog.Logger
}

func New(series *service.SeriesService, tasks *service.TaskService, calendar *service.CalendarService, loc *time.Location, log zerolog.Logger) *Server {
	if loc == nil {
		loc = time.UTC
	}
	return &Server{
		series:   series,
		tasks:    tasks,
		calendar: calendar,
		loc:      loc,
		log:      log.With().Str("component", "toolserver").Logger(),
	}
}

// Run serves requests from in until EOF or ctx is done. Every response is a
// single line on out.
//
// Lines are read on their own goroutine so cancellation is noticed while a
// read blocks. That goroutine returns only when the read does, so callers
// stopping on ctx should close in.
func (s *Server) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		reader := bufio.NewReader(in)
		for {
			line, err := reader.ReadString('\n')
			if line != "" {
				select {
				case lines <- line:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if err != io.EOF {
					readErr <- err
				}
				return
			}
		}
	}()

	enc := json.NewEncoder(out)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return fmt.Errorf("read request: %w", err)
				default:
					return nil
				}
			}
			if line = strings.TrimSpace(line); line == "" {
				continue
			}
			if resp, ok := s.handleLine(ctx, line); ok {
				if err := enc.Encode(resp); err != nil {
					return fmt.Errorf("write response: %w", err)
				}
			}
		}
	}
}

func (s *Server) handleLine(ctx context.Context, line string) (Response, bool) {
	var req Request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		s.log.Warn().Err(err).Msg("malformed request")
		return Response{JSONRPC: "2.0", Error: &RPCError{Code: codeParseError, Message: "Parse error"}}, true
	}
	// Notifications carry no id and get no response.
	if req.ID == nil {
		s.log.Debug().Str("method", req.Method).Msg("notification")
		return Response{}, false
	}
	return s.Handle(ctx, req), true
}

func (s *Server) Handle(ctx context.Context, req Request) Response {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "ping":
		return Response{JSONRPC: "2.0", ID: req.ID, Result: map[string]interface{}{}}
	case "tools/list":
		return Response{JSONRPC: "2.0", ID: req.ID, Result: ToolsListResult{Tools: tools}}
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	default:
		return Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &RPCError{Code: codeMethodNotFound, Message: "Method not found"},
		}
	}
}

func (s *Server) handleInitialize(req Request) Response {
	result := InitializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities: map[string]interface{}{
			"tools": map[string]interface{}{},
		},
	}
	result.ServerInfo.Name = "taskseries"
	result.ServerInfo.Version = "1.0.0"

	return Response{JSONRPC: "2.0", ID: req.ID, Result: result}
}

func (s *Server) handleToolsCall(ctx context.Context, req Request) Response {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &RPCError{Code: codeInvalidParams, Message: "Invalid params"},
		}
	}

	text, err := s.callTool(ctx, params.Name, params.Arguments)
	isError := err != nil
	if isError {
		s.log.Info().Err(err).Str("tool", params.Name).Msg("tool call failed")
		text = err.Error()
	}

	return Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: ToolCallResult{
			Content: []ContentBlock{{Type: "text", Text: text}},
			IsError: isError,
		},
	}
}

// Package mcpserver exposes port scanning and port actions as Model Context
// Protocol tools over stdio.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/jongio/portwatch/src/internal/actions"
	"github.com/jongio/portwatch/src/internal/logging"
	"github.com/jongio/portwatch/src/internal/portscan"
	"github.com/jongio/portwatch/src/internal/scanner"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const serverName = "portwatch"

// Tool names.
const (
	ToolScanPorts          = "scan_ports"
	ToolLookupPort         = "lookup_port"
	ToolKillPort           = "kill_port"
	ToolCheckPortAvailable = "check_port_available"
)

// Scanner is the read side the tools use.
type Scanner interface {
	Scan(ctx context.Context, start, end int) ([]portscan.PortRecord, error)
	Lookup(ctx context.Context, port int) (*portscan.PortRecord, error)
}

// Actions is the write side the tools use.
type Actions interface {
	Terminate(ctx context.Context, port int, force bool) actions.Result
	IsAvailable(ctx context.Context, port int) bool
}

// ScanResult is the structured result of scan_ports.
type ScanResult struct {
	Range   string                `json:"range"`
	Count   int                   `json:"count"`
	Records []portscan.PortRecord `json:"records"`
}

// LookupResult is the structured result of lookup_port.
type LookupResult struct {
	Port   int                  `json:"port"`
	Found  bool                 `json:"found"`
	Record *portscan.PortRecord `json:"record,omitempty"`
}

// AvailabilityResult is the structured result of check_port_available.
type AvailabilityResult struct {
	Port      int  `json:"port"`
	Available bool `json:"available"`
	// Next is the lowest free port above Port, when asked for and Port is taken.
	Next int `json:"next,omitempty"`
}

// Server wires the tools to a scanner and an action executor.
type Server struct {
	mcp     *server.MCPServer
	scanner Scanner
	actions Actions
	check   actions.PortChecker
}

// Option configures a Server.
type Option func(*Server)

// WithPortChecker replaces the bind check used when searching for the next
// free port.
func WithPortChecker(check actions.PortChecker) Option {
	return func(s *Server) {
		s.check = check
	}
}

// New creates a Server with every tool registered.
func New(version string, sc Scanner, acts Actions, opts ...Option) *Server {
	s := &Server{
		scanner: sc,
		actions: acts,
		check:   actions.BindCheck,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = server.NewMCPServer(serverName, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Inspect which local processes hold TCP/UDP ports and free ports that are in use."),
	)
	s.registerTools()
	return s
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// Serve speaks MCP over in and out until ctx is done or in is closed.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(logging.Component("mcp"), "", 0))

	logging.Debug("mcp server listening on stdio")
	if err := stdio.Listen(ctx, in, out); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool(ToolScanPorts,
		mcp.WithDescription("List processes holding TCP/UDP ports. Without a range, ports 1024-65535 are listed."),
		mcp.WithNumber("start", mcp.Description("First port of the range (1024-65535)"), mcp.Min(scanner.MinScanPort), mcp.Max(portscan.MaxPort)),
		mcp.WithNumber("end", mcp.Description("Last port of the range (1024-65535)"), mcp.Min(scanner.MinScanPort), mcp.Max(portscan.MaxPort)),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleScanPorts)

	s.mcp.AddTool(mcp.NewTool(ToolLookupPort,
		mcp.WithDescription("Find the process holding a port."),
		mcp.WithNumber("port", mcp.Required(), mcp.Description("Port number (1024-65535)")),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleLookupPort)

	s.mcp.AddTool(mcp.NewTool(ToolKillPort,
		mcp.WithDescription("Terminate the process holding a port. Processes owned by system accounts are refused."),
		mcp.WithNumber("port", mcp.Required(), mcp.Description("Port number")),
		mcp.WithBoolean("force", mcp.Description("Kill immediately instead of asking the process to exit"), mcp.DefaultBool(false)),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
	), s.handleKillPort)

	s.mcp.AddTool(mcp.NewTool(ToolCheckPortAvailable,
		mcp.WithDescription("Report whether no process holds a port, optionally finding the next free one."),
		mcp.WithNumber("port", mcp.Required(), mcp.Description("Port number (1024-65535)")),
		mcp.WithBoolean("findNext", mcp.Description("When the port is taken, return the next free port above it"), mcp.DefaultBool(false)),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleCheckPortAvailable)
}

func (s *Server) handleScanPorts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	r := portscan.Range{
		Start: req.GetInt("start", scanner.FullRange.Start),
		End:   req.GetInt("end", scanner.FullRange.End),
	}

	records, err := s.scanner.Scan(ctx, r.Start, r.End)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("scan failed", err), nil
	}
	if records == nil {
		records = []portscan.PortRecord{}
	}

	result := ScanResult{
		Range:   r.String(),
		Count:   len(records),
		Records: records,
	}
	return mcp.NewToolResultStructuredOnly(result), nil
}

func (s *Server) handleLookupPort(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	port, err := req.RequireInt("port")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	rec, err := s.scanner.Lookup(ctx, port)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("lookup failed", err), nil
	}

	result := LookupResult{Port: port, Found: rec != nil, Record: rec}
	text := fmt.Sprintf("No process found on port %d", port)
	if rec != nil {
		text = fmt.Sprintf("Port %d/%s is held by %s (PID %d)", rec.Port, rec.Protocol, rec.ProcessName, rec.PID)
	}
	return mcp.NewToolResultStructured(result, text), nil
}

func (s *Server) handleKillPort(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	port, err := req.RequireInt("port")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	force := req.GetBool("force", false)

	result := s.actions.Terminate(ctx, port, force)
	logging.Info("kill_port called", "port", port, "force", force, "success", result.Success, "reason", string(result.Reason))

	text := result.Message
	if result.Error != "" {
		text += ": " + result.Error
	}
	return &mcp.CallToolResult{
		Content:           []mcp.Content{mcp.NewTextContent(text)},
		StructuredContent: result,
		IsError:           !result.Success,
	}, nil
}

func (s *Server) handleCheckPortAvailable(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	port, err := req.RequireInt("port")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if port < 1 || port > portscan.MaxPort {
		return mcp.NewToolResultErrorf("port %d is outside %d-%d", port, portscan.MinPort, portscan.MaxPort), nil
	}

	result := AvailabilityResult{Port: port, Available: s.actions.IsAvailable(ctx, port)}
	text := fmt.Sprintf("Port %d is available", port)

	if !result.Available {
		text = fmt.Sprintf("Port %d is in use", port)
		if req.GetBool("findNext", false) && port < portscan.MaxPort {
			next, err := actions.NextAvailable(ctx, s.scanner, port+1, portscan.MaxPort, s.check)
			if err != nil {
				return mcp.NewToolResultErrorFromErr("searching for a free port failed", err), nil
			}
			result.Next = next
			text += fmt.Sprintf("; next free port is %d", next)
		}
	}
	return mcp.NewToolResultStructured(result, text), nil
}

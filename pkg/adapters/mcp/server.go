package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/recall"
	"github.com/aretw0/recall/internal/logging"
	presentation "github.com/aretw0/recall/internal/presentation/graph"
	"github.com/aretw0/recall/pkg/domain"
	"github.com/aretw0/recall/pkg/graph"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const graphURI = "recall://graph"

// Conversations is the agent surface exposed as MCP tools.
type Conversations interface {
	Run(ctx context.Context, key domain.ConversationKey, question string) (domain.Message, error)
	Thread(ctx context.Context, key domain.ConversationKey) (*domain.Checkpoint, error)
}

// ChatArgs are the arguments of the chat tool.
type ChatArgs struct {
	UserID   string `json:"user_id"`
	ThreadID string `json:"thread_id"`
	Question string `json:"question"`
}

// ThreadResponse is the structured result of get_thread.
type ThreadResponse struct {
	Messages []domain.Message `json:"messages" jsonschema_description:"Transcript of the thread, oldest first"`
	Memories []string         `json:"recall_memories,omitempty" jsonschema_description:"Memories recalled for the last turn"`
	Version  int64            `json:"version" jsonschema_description:"Checkpoint version (0 when the thread does not exist)"`
	Turn     int64            `json:"turn" jsonschema_description:"Number of completed turns"`
	Pending  string           `json:"pending,omitempty" jsonschema_description:"Step to resume when the last turn was interrupted"`
}

// Server exposes an agent as an MCP server.
type Server struct {
	conv      Conversations
	graph     *graph.Graph
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithGraph exposes the graph as the recall://graph resource.
func WithGraph(g *graph.Graph) Option {
	return func(s *Server) {
		s.graph = g
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates a new MCP Server instance.
func NewServer(conv Conversations, opts ...Option) *Server {
	s := &Server{
		conv:      conv,
		logger:    logging.NewNop(),
		mcpServer: server.NewMCPServer("recall-mcp", strings.TrimSpace(recall.Version),
			server.WithToolCapabilities(false),
			server.WithResourceCapabilities(false, false),
		),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves the SSE transport on port until ctx is cancelled.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Info("Shutdown signal received, shutting down MCP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	chatTool := mcp.NewTool("chat",
		mcp.WithDescription("Send a message to the agent in a conversation thread and get its reply. The agent remembers the thread and the user's long-term memories."),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("Owner of the conversation; scopes long-term memories")),
		mcp.WithString("thread_id", mcp.Required(), mcp.Description("Conversation thread")),
		mcp.WithString("question", mcp.Required(), mcp.Description("User message")),
	)
	s.mcpServer.AddTool(chatTool, mcp.NewTypedToolHandler(s.handleChat))

	threadTool := mcp.NewTool("get_thread",
		mcp.WithDescription("Get the transcript and checkpoint metadata of a conversation thread."),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("Owner of the conversation")),
		mcp.WithString("thread_id", mcp.Required(), mcp.Description("Conversation thread")),
		mcp.WithOutputSchema[ThreadResponse](),
	)
	s.mcpServer.AddTool(threadTool, mcp.NewStructuredToolHandler(s.handleGetThread))
}

func (s *Server) handleChat(ctx context.Context, _ mcp.CallToolRequest, args ChatArgs) (*mcp.CallToolResult, error) {
	key := domain.ConversationKey{OwnerID: args.UserID, ThreadID: args.ThreadID}
	if strings.TrimSpace(args.Question) == "" {
		return mcp.NewToolResultError("question is required"), nil
	}

	reply, err := s.conv.Run(ctx, key, args.Question)
	var loopErr *domain.ToolLoopExceededError
	switch {
	case errors.As(err, &loopErr):
		s.logger.Warn("MCP chat: tool loop exceeded", "key", key.String(), "err", err)
	case err != nil:
		s.logger.Error("MCP chat failed", "key", key.String(), "err", err)
		msg := err.Error()
		if domain.IsRetryable(err) {
			msg += " (retryable)"
		}
		return mcp.NewToolResultError(msg), nil
	}
	return mcp.NewToolResultText(reply.Content), nil
}

func (s *Server) handleGetThread(ctx context.Context, _ mcp.CallToolRequest, args map[string]interface{}) (ThreadResponse, error) {
	userID, _ := args["user_id"].(string)
	threadID, _ := args["thread_id"].(string)

	cp, err := s.conv.Thread(ctx, domain.ConversationKey{OwnerID: userID, ThreadID: threadID})
	if err != nil {
		return ThreadResponse{}, fmt.Errorf("load thread: %w", err)
	}
	return ThreadResponse{
		Messages: cp.State.Messages,
		Memories: cp.State.RecallMemories,
		Version:  cp.Version,
		Turn:     cp.Turn,
		Pending:  cp.Next,
	}, nil
}

func (s *Server) registerResources() {
	if s.graph == nil {
		return
	}
	s.mcpServer.AddResource(mcp.NewResource(graphURI, "Conversation Graph",
		mcp.WithResourceDescription("Mermaid flowchart of the agent's step graph"),
		mcp.WithMIMEType("text/plain"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      graphURI,
				MIMEType: "text/plain",
				Text:     presentation.GenerateMermaid(s.graph, nil),
			},
		}, nil
	})
}

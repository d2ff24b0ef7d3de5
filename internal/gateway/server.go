package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-flight-booking/internal/api/middleware"
	"github.com/sanosuguru/go-flight-booking/internal/pkg/logger"
)

const (
	ServerName    = "flight-booking-gateway"
	ServerVersion = "1.0.0"
)

// Server はツールをMCP（Streamable HTTP）で公開する
type Server struct {
	registry *Registry
	mcp      *server.MCPServer
	handler  *server.StreamableHTTPServer
	log      *zap.Logger
}

// NewServer はRegistryの全ツールを登録したServerを作成する
func NewServer(r *Registry, log *zap.Logger) *Server {
	s := &Server{registry: r, log: logger.OrNop(log)}
	s.mcp = server.NewMCPServer(ServerName, ServerVersion,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	for _, t := range r.List() {
		s.mcp.AddTool(mcp.NewToolWithRawSchema(t.Name, t.Description, t.InputSchema), s.toolHandler(t.Name))
	}
	s.handler = server.NewStreamableHTTPServer(s.mcp,
		server.WithStateLess(true),
		server.WithHTTPContextFunc(identityFromRequest),
	)
	return s
}

// RegisterRoutes はゲートウェイのルーティングを設定する
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.Any("/mcp", echo.WrapHandler(s.handler))
	e.GET("/tools", s.ListTools)
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "timestamp": time.Now().UTC().Format(time.RFC3339)})
	})
}

// ListTools は公開中のツール一覧を返す
func (s *Server) ListTools(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"tools": s.registry.List()})
}

// identityFromRequest は呼び出し元のユーザー情報をツール呼び出しのコンテキストへ渡す
func identityFromRequest(ctx context.Context, r *http.Request) context.Context {
	return WithIdentity(ctx, Identity{
		UserID:        firstNonEmpty(r.Header.Get(middleware.HeaderUserID), r.Header.Get(middleware.HeaderClientPrincipal)),
		Authorization: r.Header.Get(echo.HeaderAuthorization),
	})
}

func (s *Server) toolHandler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := json.Marshal(req.GetArguments())
		if err != nil {
			return nil, err
		}
		return s.call(ctx, name, args)
	}
}

// call はツールを実行する。予約APIのエラーは分類を保ったまま isError の結果として返す
func (s *Server) call(ctx context.Context, name string, args json.RawMessage) (*mcp.CallToolResult, error) {
	start := time.Now()
	log := s.log.With(zap.String("tool", name))

	result, err := s.registry.Call(ctx, name, args)
	if err != nil {
		rpcErr := toRPCError(err)
		fields := []zap.Field{zap.Int("code", rpcErr.Code), zap.Duration("latency", time.Since(start)), zap.Error(err)}
		if rpcErr.Code == CodeInternalError || rpcErr.Code == CodeInconsistentState {
			log.Error("ツール呼び出しに失敗", fields...)
		} else {
			log.Warn("ツール呼び出しがエラーを返却", fields...)
		}
		return &mcp.CallToolResult{
			Content:           []mcp.Content{mcp.NewTextContent(rpcErr.Message)},
			StructuredContent: rpcErr,
			IsError:           true,
		}, nil
	}
	log.Info("ツール呼び出し完了", zap.Duration("latency", time.Since(start)))

	text, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &mcp.CallToolResult{
		Content:           []mcp.Content{mcp.NewTextContent(string(text))},
		StructuredContent: result,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

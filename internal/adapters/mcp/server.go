// Package mcpadapter exposes the answering pipeline as a Model Context Protocol tool.
package mcpadapter

import (
	"context"
	"io"
	"log"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/verified-rag/internal/core/domain"
	"github.com/kirillkom/verified-rag/internal/core/ports"
)

const answerToolName = "answer_question"

type Options struct {
	Name            string
	Version         string
	DefaultTenantID string
	AnswerTimeout   time.Duration
}

type Server struct {
	answers ports.AnswerService
	opts    Options
	mcp     *server.MCPServer
}

func New(answers ports.AnswerService, opts Options) *Server {
	if opts.Name == "" {
		opts.Name = "verified-rag"
	}
	if opts.Version == "" {
		opts.Version = "1.0.0"
	}
	s := &Server{answers: answers, opts: opts}
	s.mcp = server.NewMCPServer(opts.Name, opts.Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	s.mcp.AddTool(answerTool(), s.handleAnswer)
	return s
}

func answerTool() mcp.Tool {
	return mcp.NewTool(answerToolName,
		mcp.WithDescription("Risponde a una domanda usando solo evidenze verificate dei documenti del tenant. "+
			"Restituisce la risposta con citazioni [CLAIM_xx], il punteggio di affidabilità URS e le fonti."),
		mcp.WithString("question", mcp.Required(), mcp.Description("Domanda in linguaggio naturale")),
		mcp.WithString("tenant_id", mcp.Description("Tenant dei documenti da interrogare")),
		mcp.WithString("user_id", mcp.Description("Utente che pone la domanda")),
	)
}

// ServeStdio blocks until ctx is done or stdin closes. Logs go to errLog so stdout stays protocol-only.
func (s *Server) ServeStdio(ctx context.Context, stdin io.Reader, stdout io.Writer, errLog io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(errLog, "mcp: ", log.LstdFlags))
	return stdio.Listen(ctx, stdin, stdout)
}

func (s *Server) handleAnswer(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil || strings.TrimSpace(question) == "" {
		return mcp.NewToolResultError("il parametro question è obbligatorio"), nil
	}
	tenantID := strings.TrimSpace(request.GetString("tenant_id", ""))
	if tenantID == "" {
		tenantID = s.opts.DefaultTenantID
	}

	if s.opts.AnswerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.AnswerTimeout)
		defer cancel()
	}

	requestID := uuid.NewString()
	result, err := s.answers.Answer(ctx, domain.AnswerRequest{
		Question:  question,
		TenantID:  tenantID,
		UserID:    strings.TrimSpace(request.GetString("user_id", "")),
		RequestID: requestID,
	})
	if err != nil {
		slog.Error("mcp_answer_failed", "request_id", requestID, "error", err)
		return mcp.NewToolResultError(domain.UserMessage(err)), nil
	}

	return mcp.NewToolResultStructured(result, result.Answer), nil
}

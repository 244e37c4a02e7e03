// Package mcpserver exposes the analysis database over the Model Context
// Protocol stdio transport, so any MCP-capable agent can read cached
// analyses and chat transcripts while working on a binary.
package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ErickCHIN000/BinAssist/internal/store"
	"github.com/ErickCHIN000/BinAssist/internal/transcript"
)

const serverInstructions = `BinAssist stores per-binary analysis results and chat history. ` +
	`Use these tools to: look up or save cached LLM analyses for a function ` +
	`(analysis_get, analysis_save); read past conversations about a binary ` +
	`(chat_list, chat_transcript); and maintain the database (context_sweep, db_stats). ` +
	`Binaries are identified by their hash; functions by their start address.`

// NewServer builds the MCP server over an opened analysis store.
func NewServer(s *store.Store, version string) *server.MCPServer {
	srv := server.NewMCPServer(
		"binassist",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions(serverInstructions),
	)

	registerTools(srv, s)
	return srv
}

// Serve runs the server on stdin/stdout until the client disconnects.
func Serve(srv *server.MCPServer) error {
	return server.ServeStdio(srv)
}

func registerTools(srv *server.MCPServer, s *store.Store) {
	srv.AddTool(
		mcp.NewTool("analysis_get",
			mcp.WithDescription("Get stored LLM analyses for a function. With query_type returns that one analysis; without it returns every analysis for the function, most recently updated first."),
			mcp.WithString("binary_hash",
				mcp.Required(),
				mcp.Description("Hash identifying the binary"),
			),
			mcp.WithNumber("function_addr",
				mcp.Required(),
				mcp.Description("Function start address"),
			),
			mcp.WithString("query_type",
				mcp.Description("Analysis kind, e.g. explain, vulnerabilities, rename"),
			),
		),
		handleAnalysisGet(s),
	)

	srv.AddTool(
		mcp.NewTool("analysis_save",
			mcp.WithDescription("Save an LLM analysis for a function. Saving again with the same binary, address and query_type replaces the previous response."),
			mcp.WithString("binary_hash",
				mcp.Required(),
				mcp.Description("Hash identifying the binary"),
			),
			mcp.WithNumber("function_addr",
				mcp.Required(),
				mcp.Description("Function start address"),
			),
			mcp.WithString("query_type",
				mcp.Required(),
				mcp.Description("Analysis kind, e.g. explain, vulnerabilities, rename"),
			),
			mcp.WithString("response",
				mcp.Required(),
				mcp.Description("The analysis text to store"),
			),
		),
		handleAnalysisSave(s),
	)

	srv.AddTool(
		mcp.NewTool("chat_list",
			mcp.WithDescription("List conversations recorded for a binary with message counts and activity times."),
			mcp.WithString("binary_hash",
				mcp.Required(),
				mcp.Description("Hash identifying the binary"),
			),
		),
		handleChatList(s),
	)

	srv.AddTool(
		mcp.NewTool("chat_transcript",
			mcp.WithDescription("Get a readable transcript of one conversation. Duplicate assistant turns are folded and tool calls are summarized."),
			mcp.WithString("binary_hash",
				mcp.Required(),
				mcp.Description("Hash identifying the binary"),
			),
			mcp.WithString("chat_id",
				mcp.Required(),
				mcp.Description("Conversation identifier from chat_list"),
			),
		),
		handleChatTranscript(s),
	)

	srv.AddTool(
		mcp.NewTool("context_sweep",
			mcp.WithDescription("Remove expired context cache entries. Safe to run repeatedly."),
		),
		handleContextSweep(s),
	)

	srv.AddTool(
		mcp.NewTool("db_stats",
			mcp.WithDescription("Show database statistics: stored analyses, cached contexts, chat messages, binaries and prompt versions."),
		),
		handleDBStats(s),
	)
}

func handleAnalysisGet(s *store.Store) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		binaryHash, _ := req.GetArguments()["binary_hash"].(string)
		functionAddr := uintArg(req, "function_addr")
		queryType, _ := req.GetArguments()["query_type"].(string)

		if strings.TrimSpace(queryType) != "" {
			a, err := s.GetFunctionAnalysis(ctx, binaryHash, functionAddr, queryType)
			if err != nil {
				return mcp.NewToolResultError("Failed to get analysis: " + err.Error()), nil
			}
			if a == nil {
				return mcp.NewToolResultText(fmt.Sprintf("No %s analysis stored for 0x%x", queryType, functionAddr)), nil
			}
			return mcp.NewToolResultText(a.Response), nil
		}

		analyses, err := s.GetFunctionAnalyses(ctx, binaryHash, functionAddr)
		if err != nil {
			return mcp.NewToolResultError("Failed to get analyses: " + err.Error()), nil
		}
		if len(analyses) == 0 {
			return mcp.NewToolResultText(fmt.Sprintf("No analyses stored for 0x%x", functionAddr)), nil
		}

		var b strings.Builder
		fmt.Fprintf(&b, "%d analyses for 0x%x:\n\n", len(analyses), functionAddr)
		for _, a := range analyses {
			fmt.Fprintf(&b, "## %s\n%s\n\n", a.QueryType, a.Response)
		}
		return mcp.NewToolResultText(b.String()), nil
	}
}

func handleAnalysisSave(s *store.Store) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		binaryHash, _ := req.GetArguments()["binary_hash"].(string)
		functionAddr := uintArg(req, "function_addr")
		queryType, _ := req.GetArguments()["query_type"].(string)
		response, _ := req.GetArguments()["response"].(string)

		if strings.TrimSpace(response) == "" {
			return mcp.NewToolResultError("response is required"), nil
		}

		if _, err := s.SaveFunctionAnalysis(ctx, binaryHash, functionAddr, queryType, response, nil); err != nil {
			return mcp.NewToolResultError("Failed to save analysis: " + err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Saved %s analysis for 0x%x", queryType, functionAddr)), nil
	}
}

func handleChatList(s *store.Store) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		binaryHash, _ := req.GetArguments()["binary_hash"].(string)

		chats, err := s.GetAllChats(ctx, binaryHash)
		if err != nil {
			return mcp.NewToolResultError("Failed to list chats: " + err.Error()), nil
		}
		if len(chats) == 0 {
			return mcp.NewToolResultText("No conversations recorded for this binary."), nil
		}

		var b strings.Builder
		fmt.Fprintf(&b, "%d conversations:\n", len(chats))
		for _, c := range chats {
			name := c.ChatID
			if meta, err := s.GetChatMetadata(ctx, binaryHash, c.ChatID); err == nil && meta != nil && meta.Name != "" {
				name = fmt.Sprintf("%s (%s)", meta.Name, c.ChatID)
			}
			fmt.Fprintf(&b, "- %s — %d messages\n", name, c.MessageCount)
		}
		return mcp.NewToolResultText(b.String()), nil
	}
}

func handleChatTranscript(s *store.Store) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		binaryHash, _ := req.GetArguments()["binary_hash"].(string)
		chatID, _ := req.GetArguments()["chat_id"].(string)

		rows, err := s.GetNativeMessages(ctx, binaryHash, chatID, "")
		if err != nil {
			return mcp.NewToolResultError("Failed to load chat: " + err.Error()), nil
		}
		msgs := transcript.Build(rows)
		if len(msgs) == 0 {
			return mcp.NewToolResultText("Conversation is empty."), nil
		}

		var b strings.Builder
		for _, m := range msgs {
			fmt.Fprintf(&b, "### %s\n%s\n\n", m.Role, m.Content)
		}
		return mcp.NewToolResultText(b.String()), nil
	}
}

func handleContextSweep(s *store.Store) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		n, err := s.CleanupExpiredContext(ctx)
		if err != nil {
			return mcp.NewToolResultError("Sweep failed: " + err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Removed %d expired context entries", n)), nil
	}
}

func handleDBStats(s *store.Store) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		st, err := s.Stats(ctx)
		if err != nil {
			return mcp.NewToolResultError("Failed to get stats: " + err.Error()), nil
		}
		result := fmt.Sprintf(
			"Database stats:\n- Analyses: %d\n- Cached contexts: %d\n- Chat messages: %d\n- Binaries: %d\n- Prompt versions: %d",
			st.TotalAnalyses, st.CachedContexts, st.TotalChatMessages, st.UniqueBinaries, st.SystemPrompts)
		return mcp.NewToolResultText(result), nil
	}
}

func uintArg(req mcp.CallToolRequest, key string) uint64 {
	v, ok := req.GetArguments()[key].(float64)
	if !ok || v < 0 {
		return 0
	}
	return uint64(v)
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ErickCHIN000/BinAssist/internal/config"
	"github.com/ErickCHIN000/BinAssist/internal/mcpserver"
	"github.com/ErickCHIN000/BinAssist/internal/store"
	"github.com/ErickCHIN000/BinAssist/internal/transcript"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"
	// Commit is set via -ldflags at build time.
	Commit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "stats":
		statsCmd(os.Args[2:])
	case "sweep":
		sweepCmd(os.Args[2:])
	case "chats":
		chatsCmd(os.Args[2:])
	case "export":
		exportCmd(os.Args[2:])
	case "prompt":
		promptCmd(os.Args[2:])
	case "mcp":
		mcpCmd(os.Args[2:])
	case "version":
		fmt.Printf("binassist %s (%s)\n", Version, Commit)
	default:
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `binassist

Usage:
  binassist stats [flags]
  binassist sweep [flags]
  binassist chats -binary <hash> [flags]
  binassist export -binary <hash> -chat <id> [-format yaml|json] [flags]
  binassist prompt [-activate <version>] [flags]
  binassist mcp [flags]
  binassist version

Commands:
  stats      Print database statistics.
  sweep      Remove expired context cache entries and old chat rows.
  chats      List conversations recorded for a binary.
  export     Write a conversation transcript to stdout.
  prompt     Show the active system prompt, or activate a stored version.
  mcp        Serve the analysis database over MCP stdio.
  version    Print build information.

`)
}

// openStore loads config, builds a logger, and opens the analysis DB.
// logOut lets the mcp command keep stdout clean for the protocol.
func openStore(fs *flag.FlagSet, logOut io.Writer) (*store.Store, *slog.Logger) {
	cfgPath := fs.Lookup("config").Value.String()
	dbPath := fs.Lookup("db").Value.String()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogFormat, cfg.LogLevel, logOut)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	if strings.TrimSpace(dbPath) == "" {
		dbPath = cfg.ResolveAnalysisDBPath()
	}
	s, err := store.Open(dbPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		os.Exit(1)
	}
	return s, logger
}

func commonFlags(fs *flag.FlagSet) {
	fs.String("config", config.DefaultConfigPath(), "Config file path")
	fs.String("db", "", "Analysis database path (default: from config)")
}

func statsCmd(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	commonFlags(fs)
	_ = fs.Parse(args)

	s, _ := openStore(fs, os.Stderr)
	defer s.Close()

	st, err := s.Stats(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "stats: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Analyses:        %d\n", st.TotalAnalyses)
	fmt.Printf("Cached contexts: %d\n", st.CachedContexts)
	fmt.Printf("Chat messages:   %d\n", st.TotalChatMessages)
	fmt.Printf("Binaries:        %d\n", st.UniqueBinaries)
	fmt.Printf("Prompt versions: %d\n", st.SystemPrompts)
}

func sweepCmd(args []string) {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	commonFlags(fs)
	maxChatAge := fs.Duration("max-chat-age", 0, "Also delete legacy chat rows older than this (0: keep all)")
	vacuum := fs.Bool("vacuum", false, "Compact the database file afterwards")
	_ = fs.Parse(args)

	s, _ := openStore(fs, os.Stderr)
	defer s.Close()

	ctx := context.Background()
	res, err := s.Cleanup(ctx, *maxChatAge)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sweep: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Removed %d expired contexts, %d old chat messages\n", res.ExpiredContexts, res.OldChatMessages)

	if *vacuum {
		if err := s.Vacuum(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "vacuum: %v\n", err)
			os.Exit(1)
		}
	}
}

func chatsCmd(args []string) {
	fs := flag.NewFlagSet("chats", flag.ExitOnError)
	commonFlags(fs)
	binary := fs.String("binary", "", "Binary hash")
	_ = fs.Parse(args)

	if strings.TrimSpace(*binary) == "" {
		fs.Usage()
		os.Exit(2)
	}

	s, _ := openStore(fs, os.Stderr)
	defer s.Close()

	ctx := context.Background()
	chats, err := s.GetAllChats(ctx, *binary)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chats: %v\n", err)
		os.Exit(1)
	}
	if len(chats) == 0 {
		fmt.Println("No conversations recorded.")
		return
	}
	for _, c := range chats {
		name := ""
		if meta, err := s.GetChatMetadata(ctx, *binary, c.ChatID); err == nil && meta != nil {
			name = "  " + meta.Name
		}
		last := time.UnixMilli(c.LastMessageUnixMs).Format(time.RFC3339)
		fmt.Printf("%s  %4d messages  last %s%s\n", c.ChatID, c.MessageCount, last, name)
	}
}

func exportCmd(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	commonFlags(fs)
	binary := fs.String("binary", "", "Binary hash")
	chat := fs.String("chat", "", "Conversation identifier")
	format := fs.String("format", "yaml", "Output format: yaml|json")
	_ = fs.Parse(args)

	if strings.TrimSpace(*binary) == "" || strings.TrimSpace(*chat) == "" {
		fs.Usage()
		os.Exit(2)
	}

	s, _ := openStore(fs, os.Stderr)
	defer s.Close()

	rows, err := s.GetNativeMessages(context.Background(), *binary, *chat, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "export: %v\n", err)
		os.Exit(1)
	}
	msgs := transcript.Build(rows)

	switch strings.ToLower(strings.TrimSpace(*format)) {
	case "", "yaml":
		b, err := yaml.Marshal(msgs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "export: %v\n", err)
			os.Exit(1)
		}
		os.Stdout.Write(b)
	case "json":
		b, err := json.MarshalIndent(msgs, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "export: %v\n", err)
			os.Exit(1)
		}
		os.Stdout.Write(append(b, '\n'))
	default:
		fmt.Fprintf(os.Stderr, "unknown format: %s\n", *format)
		os.Exit(2)
	}
}

func promptCmd(args []string) {
	fs := flag.NewFlagSet("prompt", flag.ExitOnError)
	commonFlags(fs)
	activate := fs.String("activate", "", "Activate the named prompt version")
	list := fs.Bool("list", false, "List stored prompt versions")
	_ = fs.Parse(args)

	s, _ := openStore(fs, os.Stderr)
	defer s.Close()

	ctx := context.Background()
	switch {
	case *activate != "":
		ok, err := s.SetActiveSystemPrompt(ctx, *activate)
		if err != nil {
			fmt.Fprintf(os.Stderr, "prompt: %v\n", err)
			os.Exit(1)
		}
		if !ok {
			fmt.Fprintf(os.Stderr, "no prompt version %q\n", *activate)
			os.Exit(1)
		}
		fmt.Printf("Activated prompt version %s\n", *activate)
	case *list:
		prompts, err := s.GetSystemPrompts(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "prompt: %v\n", err)
			os.Exit(1)
		}
		for _, p := range prompts {
			marker := " "
			if p.Active {
				marker = "*"
			}
			fmt.Printf("%s %s  %s\n", marker, p.Version, time.UnixMilli(p.CreatedAtUnixMs).Format(time.RFC3339))
		}
	default:
		p, err := s.GetActiveSystemPrompt(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "prompt: %v\n", err)
			os.Exit(1)
		}
		if p == nil {
			fmt.Println("No active system prompt.")
			return
		}
		fmt.Printf("# version %s\n%s\n", p.Version, p.Prompt)
	}
}

func mcpCmd(args []string) {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	commonFlags(fs)
	_ = fs.Parse(args)

	// stdout carries the protocol; logs go to stderr.
	s, logger := openStore(fs, os.Stderr)
	defer s.Close()

	srv := mcpserver.NewServer(s, Version)
	if err := mcpserver.Serve(srv); err != nil {
		logger.Error("mcp server exited", "error", err)
		os.Exit(1)
	}
}

// --- logger ---

func newLogger(format string, level string, out io.Writer) (*slog.Logger, error) {
	var h slog.Handler

	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		lvl = slog.LevelInfo
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level: %s", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		h = slog.NewJSONHandler(out, opts)
	case "text":
		h = slog.NewTextHandler(out, opts)
	default:
		return nil, fmt.Errorf("unknown log format: %s", format)
	}

	return slog.New(h), nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"pricebot/internal/api"
	"pricebot/internal/domain"
	"pricebot/internal/mcpserver"
	"pricebot/internal/memory"
	"pricebot/internal/provider"
	"pricebot/internal/tool"
)

const (
	shutdownTimeout = 10 * time.Second
	taskRetention   = time.Hour
)

func catalogCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Print the capability catalog",
		Long:  "Prints the ordered capability catalog as plain text, OpenAI function tools or MCP tool definitions.",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := tool.NewCatalog()
			if err != nil {
				return err
			}
			return writeCatalog(cmd.OutOrStdout(), catalog.List(""), format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "plain", "output format: plain, openai or mcp")
	return cmd
}

func writeCatalog(w io.Writer, descs []domain.CapabilityDescriptor, format string) error {
	var v any
	switch format {
	case "plain":
		for _, d := range descs {
			summary, _, _ := strings.Cut(d.Description, "\n")
			fmt.Fprintf(w, "%-24s %s\n", d.Name, summary)
		}
		return nil
	case "openai":
		v = provider.OpenAITools(descs)
	case "mcp":
		v = descs
	default:
		return fmt.Errorf("unknown format %q (want plain, openai or mcp)", format)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func invokeCmd() *cobra.Command {
	var conversation, locale string
	var wait bool
	cmd := &cobra.Command{
		Use:   "invoke <capability> [arguments-json]",
		Short: "Run one tool call and print its envelope",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			call := domain.ToolCall{ID: uuid.NewString(), Name: args[0]}
			if len(args) == 2 {
				call.Arguments = args[1]
			}
			ctx := cmd.Context()
			envelopes, err := a.turn.Invoke(ctx, conversation, []domain.ToolCall{call}, locale)
			if len(envelopes) == 1 {
				data, merr := json.MarshalIndent(envelopes[0], "", "  ")
				if merr != nil {
					return merr
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
			}
			if err != nil {
				return err
			}
			if task := a.turn.Defer(ctx, conversation, envelopes); task != "" && wait {
				if err := a.turn.Drain(ctx); err != nil {
					return err
				}
				t, _ := a.turn.Task(task)
				a.logger.Info("deferred work finished", "task", task, "status", t.Status, "err", t.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&conversation, "conversation", "cli", "conversation id")
	cmd.Flags().StringVar(&locale, "locale", "", "caller locale")
	cmd.Flags().BoolVar(&wait, "wait", true, "wait for deferred work before exiting")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long:  "Serves the catalog and tool calls over HTTP. Press Ctrl+C to stop; in-flight deferred work is drained first.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			gin.SetMode(gin.ReleaseMode)
			apiCfg := api.Config{API: cfg.API, Metrics: cfg.Metrics, Turn: a.turn, Logger: a.logger}
			if assistant := a.assistant(); assistant != nil {
				apiCfg.Assistant = assistant
			}
			srv := api.New(apiCfg)
			go pruneTasks(ctx, a)

			runErr := srv.Run(ctx)
			a.logger.Info("draining deferred work")
			return drain(a, runErr)
		},
	}
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the catalog as MCP tools over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			// stdout carries JSON-RPC; the logger writes to stderr.
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := mcpserver.New(mcpserver.Config{
				Name:           cfg.MCP.Name,
				Version:        cfg.MCP.Version,
				ConversationID: cfg.MCP.ConversationID,
				Turn:           a.turn,
				Logger:         a.logger,
			})
			return drain(a, srv.ServeStdio())
		},
	}
}

func chatCmd() *cobra.Command {
	var conversation, locale string
	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Send one message to the configured model with the catalog as tools",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			assistant := a.assistant()
			if assistant == nil {
				return fmt.Errorf("no model configured: set llm.apiKey or llm.apiBase")
			}
			reply, err := assistant.Chat(cmd.Context(), conversation, strings.Join(args, " "), locale)
			if reply.Text != "" {
				fmt.Fprintln(cmd.OutOrStdout(), reply.Text)
			}
			return drain(a, err)
		},
	}
	cmd.Flags().StringVar(&conversation, "conversation", "cli", "conversation id")
	cmd.Flags().StringVar(&locale, "locale", "", "caller locale")
	return cmd
}

// pruneTasks drops finished task records so /v1/tasks does not grow without bound.
func pruneTasks(ctx context.Context, a *app) {
	ticker := time.NewTicker(taskRetention / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.turn.Prune(taskRetention); n > 0 {
				a.logger.Debug("pruned finished tasks", "count", n)
			}
		}
	}
}

// drain waits for deferred batches and returns cause, or the drain error when
// cause is nil.
func drain(a *app, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.turn.Drain(ctx); err != nil {
		a.logger.Warn("deferred work still running at exit", "err", err)
		if cause == nil {
			return fmt.Errorf("drain deferred work: %w", err)
		}
	}
	return cause
}

func filesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files",
		Short: "Manage the files recorded for a conversation",
	}

	var conversation, mimeType string
	var generated bool
	add := &cobra.Command{
		Use:   "add <path>...",
		Short: "Record local files as uploaded to a conversation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := memory.NewSQLiteStore(cfg.Storage.DBPath, cliLogger())
			if err != nil {
				return err
			}
			defer store.Close()

			origin := memory.OriginUser
			if generated {
				origin = memory.OriginGenerated
			}
			for _, p := range args {
				info, err := os.Stat(p)
				if err != nil {
					return err
				}
				mt := mimeType
				if mt == "" {
					mt = mime.TypeByExtension(filepath.Ext(p))
				}
				if mt == "" {
					mt = "application/octet-stream"
				}
				f := domain.StoredFile{
					Filename:     filepath.Base(p),
					Size:         info.Size(),
					MimeType:     mt,
					TimeUploaded: info.ModTime(),
				}
				if err := store.AddFile(cmd.Context(), conversation, f, origin); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added %s (%s, %s)\n", f.Filename, humanSize(f.Size), f.MimeType)
			}
			return nil
		},
	}
	add.Flags().StringVar(&conversation, "conversation", "cli", "conversation id")
	add.Flags().StringVar(&mimeType, "mime", "", "MIME type (default: from extension)")
	add.Flags().BoolVar(&generated, "generated", false, "mark the files as generated by the assistant")

	var listConversation string
	list := &cobra.Command{
		Use:   "list",
		Short: "List a conversation's files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := memory.NewSQLiteStore(cfg.Storage.DBPath, cliLogger())
			if err != nil {
				return err
			}
			defer store.Close()

			files, err := store.ListFiles(cmd.Context(), listConversation)
			if err != nil {
				return err
			}
			for _, f := range files {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", f.Filename, humanSize(f.Size), f.MimeType, f.TimeUploaded.Format(time.RFC3339))
			}
			return nil
		},
	}
	list.Flags().StringVar(&listConversation, "conversation", "cli", "conversation id")

	cmd.AddCommand(add, list)
	return cmd
}

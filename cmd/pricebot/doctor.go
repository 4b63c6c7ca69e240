package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"pricebot/internal/config"
	"pricebot/internal/memory"
	"pricebot/internal/provider"
)

// checkReport tallies doctor results.
type checkReport struct {
	w                      io.Writer
	passed, warned, failed int
}

func (r *checkReport) pass(check, detail string) {
	r.passed++
	fmt.Fprintf(r.w, "  [PASS] %-20s %s\n", check, detail)
}

func (r *checkReport) warn(check, detail string) {
	r.warned++
	fmt.Fprintf(r.w, "  [WARN] %-20s %s\n", check, detail)
}

func (r *checkReport) fail(check, detail string) {
	r.failed++
	fmt.Fprintf(r.w, "  [FAIL] %-20s %s\n", check, detail)
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check config, storage and collaborators",
		Long: `Verifies that the configuration loads, the database is writable and
the configured indicator service and delivery channel answer.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "pricebot doctor v%s\n\n", version)
			r := &checkReport{w: out}

			cfgPath := config.ExpandPath(resolveConfigPath())
			if _, err := os.Stat(cfgPath); err != nil {
				r.warn("Config file", fmt.Sprintf("not found at %s, using defaults", cfgPath))
			} else {
				r.pass("Config file", cfgPath)
			}
			cfg, err := loadConfig()
			if err != nil {
				r.fail("Config validation", err.Error())
				return r.summary()
			}
			r.pass("Config validation", "valid")

			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			checkStorage(ctx, r, cfg.Storage.DBPath)
			checkIndicators(ctx, r, cfg.Indicators)
			checkDelivery(ctx, r, cfg.Delivery)
			checkPort(r, cfg.API)

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					r.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					r.pass("Log file", cfg.General.LogFile)
				}
			}
			if cfg.LLM.APIKey == "" && cfg.LLM.APIBase == "" {
				r.warn("Model", "llm not configured, chat is unavailable")
			} else {
				r.pass("Model", cfg.LLM.Model)
			}
			return r.summary()
		},
	}
}

func (r *checkReport) summary() error {
	fmt.Fprintf(r.w, "\nResults: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	return nil
}

func checkStorage(ctx context.Context, r *checkReport, dbPath string) {
	store, err := memory.NewSQLiteStore(dbPath, cliLogger())
	if err != nil {
		r.fail("Database", err.Error())
		return
	}
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		r.fail("Database", err.Error())
		return
	}
	r.pass("Database", dbPath)
}

func checkIndicators(ctx context.Context, r *checkReport, cfg config.IndicatorsConfig) {
	ind, err := provider.NewIndicators(cfg, cliLogger())
	if err != nil {
		r.fail("Indicators", err.Error())
		return
	}
	if cfg.URL == "" {
		r.warn("Indicators", "no url configured, serving the static summary")
		return
	}
	if _, err := ind.ComputeIndicators(ctx); err != nil {
		r.fail("Indicators", err.Error())
		return
	}
	r.pass("Indicators", cfg.URL)
}

func checkDelivery(ctx context.Context, r *checkReport, cfg config.DeliveryConfig) {
	switch cfg.Driver {
	case "log":
		r.warn("Delivery", "log driver: deferred jobs are only logged")
	case "redis":
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			r.fail("Delivery", err.Error())
			return
		}
		client := redis.NewClient(opt)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			r.fail("Delivery", fmt.Sprintf("redis %s: %v", opt.Addr, err))
			return
		}
		r.pass("Delivery", fmt.Sprintf("redis stream %s on %s", cfg.Redis.Stream, opt.Addr))
	case "telegram":
		r.pass("Delivery", "telegram token configured")
	}
}

func checkPort(r *checkReport, cfg config.APIConfig) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		r.warn("API address", fmt.Sprintf("%s may be in use: %v", addr, err))
		return
	}
	ln.Close()
	r.pass("API address", addr+" available")
}

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"pricebot/internal/config"
	"pricebot/internal/memory"
)

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a consistent copy of the database",
		Long: `Copies the SQLite database (files and voice preferences) to a new file
while it stays online. The copy is timestamped by default.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if outputPath == "" {
				ts := time.Now().Format("20060102-150405")
				outputPath = filepath.Join(config.DefaultConfigDir(), "backups", fmt.Sprintf("pricebot-%s.db", ts))
			}

			store, err := memory.NewSQLiteStore(cfg.Storage.DBPath, cliLogger())
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Backup(cmd.Context(), outputPath); err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}
			size := int64(0)
			if info, err := os.Stat(outputPath); err == nil {
				size = info.Size()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backup created: %s (%s)\n", outputPath, humanSize(size))
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file (default: ~/.pricebot/backups/pricebot-<timestamp>.db)")
	return cmd
}

func humanSize(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

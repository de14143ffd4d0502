package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"ezywork/internal/auth"
	"ezywork/internal/config"
	"ezywork/internal/db"
	"ezywork/internal/logging"
	"ezywork/internal/problem"
)

var rootCmd = &cobra.Command{
	Use:           "ezywork",
	Short:         "EzyWork marketplace server",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(problemsCmd())
	rootCmd.AddCommand(tokenCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
			gdb, err := db.Connect(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close(gdb)
			if err := db.AutoMigrateAndIndexes(gdb); err != nil {
				return err
			}
			log.Info("schema up to date")
			return nil
		},
	}
}

func problemsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "problems", Short: "Inspect problems"}
	cmd.AddCommand(problemsOpenCmd())
	return cmd
}

func problemsOpenCmd() *cobra.Command {
	var (
		category string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "open",
		Short: "List open problems, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			gdb, err := db.Connect(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close(gdb)

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			store := &problem.Store{DB: gdb}
			rows, err := store.ListOpen(ctx, category)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(rows)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Category", "Title", "City", "Created By", "Created"})
			for _, p := range rows {
				tw.AppendRow(table.Row{p.ID, p.Category, p.Title, p.Location.City, p.CreatedBy, p.CreatedAt.Format(time.RFC3339)})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "category filter")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output JSON")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		sub string
		ttl time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a customer or worker id",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			secret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
			if secret == "" {
				return errors.New("missing env: JWT_SECRET")
			}
			if strings.TrimSpace(sub) == "" {
				return errors.New("--sub required")
			}
			tok, err := auth.NewJWT(secret).Sign(strings.TrimSpace(sub), ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&sub, "sub", "", "customer or worker id")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

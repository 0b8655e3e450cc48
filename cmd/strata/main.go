// Command strata is the CLI for the document knowledge-graph indexer.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/okkerlund/strata"
	"github.com/okkerlund/strata/server"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cmd := &cli.Command{
		Name:  "strata",
		Usage: "Index long documents into a provenance-preserving knowledge graph",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML config file",
				Sources: cli.EnvVars("STRATA_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "index",
				Usage:     "Index one or more document files",
				ArgsUsage: "FILE...",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "force", Usage: "Rebuild even when content is unchanged"},
					&cli.StringFlag{Name: "subject", Usage: "Override the document subject used as extraction context"},
				},
				Action: runIndex,
			},
			{
				Name:      "resume",
				Usage:     "Resume an interrupted or partial indexing run",
				ArgsUsage: "DOC_ID",
				Action:    runResume,
			},
			{
				Name:      "status",
				Usage:     "Show a document's indexing progress and graph counts",
				ArgsUsage: "DOC_ID",
				Action:    runStatus,
			},
			{
				Name:   "documents",
				Usage:  "List all registered documents",
				Action: runDocuments,
			},
			{
				Name:      "delete",
				Usage:     "Remove a document and everything derived from it",
				ArgsUsage: "DOC_ID",
				Action:    runDelete,
			},
			{
				Name:      "watch",
				Usage:     "Watch a directory and index documents as they appear or change",
				ArgsUsage: "DIR",
				Action:    runWatch,
			},
			{
				Name:  "serve",
				Usage: "Serve the indexing API over HTTP",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "addr", Value: ":8080", Usage: "Listen address"},
				},
				Action: runServe,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("command failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// newEngine builds an engine from the --config flag, falling back to the
// defaults (which read provider API keys from the environment).
func newEngine(cmd *cli.Command) (strata.Engine, error) {
	cfg := strata.DefaultConfig()
	if path := cmd.String("config"); path != "" {
		var err error
		cfg, err = strata.LoadConfig(path)
		if err != nil {
			return nil, err
		}
	}
	return strata.New(cfg)
}

func runIndex(ctx context.Context, cmd *cli.Command) error {
	paths := cmd.Args().Slice()
	if len(paths) == 0 {
		return fmt.Errorf("index: at least one file is required")
	}
	eng, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	var opts []strata.IndexOption
	if cmd.Bool("force") {
		opts = append(opts, strata.WithForceReindex())
	}
	if s := cmd.String("subject"); s != "" {
		opts = append(opts, strata.WithSubject(s))
	}

	for _, path := range paths {
		report, err := eng.Index(ctx, path, opts...)
		if err != nil {
			return fmt.Errorf("indexing %s: %w", path, err)
		}
		printJSON(report)
	}
	return nil
}

func runResume(ctx context.Context, cmd *cli.Command) error {
	docID := cmd.Args().First()
	if docID == "" {
		return fmt.Errorf("resume: DOC_ID is required")
	}
	eng, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	report, err := eng.Resume(ctx, docID)
	if err != nil {
		return err
	}
	printJSON(report)
	return nil
}

func runStatus(ctx context.Context, cmd *cli.Command) error {
	docID := cmd.Args().First()
	if docID == "" {
		return fmt.Errorf("status: DOC_ID is required")
	}
	eng, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	status, err := eng.Status(ctx, docID)
	if err != nil {
		return err
	}
	printJSON(status)
	return nil
}

func runDocuments(ctx context.Context, cmd *cli.Command) error {
	eng, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	docs, err := eng.Documents(ctx)
	if err != nil {
		return err
	}
	for _, d := range docs {
		fmt.Printf("%-30s %-16s %4d pages  %s\n", d.DocID, d.Status, d.TotalPages, d.Path)
	}
	return nil
}

func runDelete(ctx context.Context, cmd *cli.Command) error {
	docID := cmd.Args().First()
	if docID == "" {
		return fmt.Errorf("delete: DOC_ID is required")
	}
	eng, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	if err := eng.Delete(ctx, docID); err != nil {
		return err
	}
	fmt.Printf("deleted %s\n", docID)
	return nil
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	eng, err := newEngine(cmd)
	if err != nil {
		return err
	}
	defer eng.Close()

	addr := cmd.String("addr")
	srv := &http.Server{
		Addr: addr,
		Handler: server.NewRouter(eng, server.Options{
			APIKey:      os.Getenv("STRATA_API_KEY"),
			CORSOrigins: os.Getenv("STRATA_CORS_ORIGINS"),
		}),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/document-pipeline/internal/bootstrap"
	"github.com/kirillkom/document-pipeline/internal/config"
	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/observability/logging"
)

var errIncomplete = errors.New("not every document completed")

type processResult struct {
	File     string           `json:"file"`
	Document *domain.Document `json:"document,omitempty"`
	Error    string           `json:"error,omitempty"`
}

func newProcessCommand(jsonOutput *bool) *cobra.Command {
	var (
		showLogs bool
		parallel int
	)
	cmd := &cobra.Command{
		Use:   "process <file>...",
		Short: "Ingest local files and wait for every run to finish",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := logging.New(logging.Options{Service: "docpipe", Level: "warn", Format: "text", Writer: cmd.ErrOrStderr()})
			app, err := bootstrap.New(ctx, cliConfig(), logger)
			if err != nil {
				return err
			}
			defer app.Close()

			results := processFiles(ctx, app, args, parallel)
			if showLogs {
				for _, entry := range app.Journal.Snapshot() {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s [%s] %-8s %s\n",
						entry.Timestamp.Format("15:04:05.000"), entry.Level, entry.Stage, entry.Message)
				}
			}
			if *jsonOutput {
				printJSON(cmd.OutOrStdout(), results)
			} else {
				printResults(cmd.OutOrStdout(), results)
			}
			for _, result := range results {
				if result.Error != "" || result.Document == nil || result.Document.Status != domain.StatusComplete {
					return errIncomplete
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showLogs, "logs", false, "Print the pipeline log to stderr")
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 4, "Files read concurrently")
	return cmd
}

// cliConfig keeps the environment's tuning but forces in-memory backends and
// in-process dispatch so the CLI never touches shared state.
func cliConfig() config.Config {
	cfg := config.Load()
	cfg.StoreBackend = config.StoreMemory
	cfg.ObjectBackend = config.ObjectsMemory
	cfg.DispatchMode = config.DispatchInProcess
	cfg.PublishTriggers = false
	cfg.Neo4jURI = ""
	cfg.OTelEndpoint = ""
	return cfg
}

// processFiles accepts every file, dispatches the accepted ones as one batch
// and waits for their runs. Cancelling ctx stops each run at its next stage
// boundary.
func processFiles(ctx context.Context, app *bootstrap.App, paths []string, parallel int) []processResult {
	results := make([]processResult, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(parallel, 1))
	for i, path := range paths {
		results[i].File = path
		g.Go(func() error {
			doc, err := acceptFile(gctx, app, path)
			if err != nil {
				results[i].Error = err.Error()
				return nil
			}
			results[i].Document = doc
			return nil
		})
	}
	_ = g.Wait()

	var accepted []*domain.Document
	for i := range results {
		if results[i].Document == nil {
			continue
		}
		if ctx.Err() != nil {
			results[i].Document = nil
			results[i].Error = "cancelled before processing"
			continue
		}
		accepted = append(accepted, results[i].Document)
	}
	// Runs ignore request cancellation, so dispatch must not be cut short by
	// the signal either. Cancellation reaches the runs through Cancel below.
	if err := app.IngestUC.DispatchBatch(context.WithoutCancel(ctx), accepted); err != nil {
		app.Logger.Warn("dispatch_batch_failed", "error", err)
	}

	finished := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			for _, doc := range accepted {
				_ = app.Pipeline.Cancel(doc.ID)
			}
		case <-finished:
		}
	}()
	app.Pipeline.Wait()
	close(finished)

	for i := range results {
		if results[i].Document == nil {
			continue
		}
		doc, err := app.QueryUC.GetByID(context.WithoutCancel(ctx), results[i].Document.ID)
		if err != nil {
			results[i].Error = err.Error()
			continue
		}
		results[i].Document = doc
	}
	return results
}

func acceptFile(ctx context.Context, app *bootstrap.App, path string) (*domain.Document, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	return app.IngestUC.Accept(ctx, domain.Upload{
		Filename: filepath.Base(path),
		Size:     info.Size(),
		Body:     file,
	})
}

func printResults(w io.Writer, results []processResult) {
	for _, result := range results {
		if result.Error != "" {
			fmt.Fprintf(w, "%s: %s\n", result.File, result.Error)
			continue
		}
		doc := result.Document
		fmt.Fprintf(w, "%s: %s", result.File, doc.Status)
		if doc.Status == domain.StatusComplete {
			fmt.Fprintf(w, " • %s/%s (%d%%) • %d words • %d chunks",
				doc.Category, doc.DocumentType, int(math.Round(doc.OverallConfidence*100)), doc.WordCount, doc.ChunkCount)
		}
		for _, detail := range doc.Errors {
			fmt.Fprintf(w, "\n  error: %s", detail)
		}
		for _, warning := range doc.Warnings {
			fmt.Fprintf(w, "\n  warning: %s", warning)
		}
		fmt.Fprintln(w)
	}
}

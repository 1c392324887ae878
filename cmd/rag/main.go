package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/xlab/treeprint"

	"medrag/internal/bootstrap"
	"medrag/internal/config"
	"medrag/internal/domain"
	"medrag/internal/logging"
	"medrag/internal/service"
	"medrag/internal/tui"
)

func main() {
	_ = godotenv.Load()

	var cfgPath string
	var inspect bool
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ./config.yaml or ~/.config/medrag/config.yaml if not provided)")
	flag.BoolVar(&inspect, "inspect", false, "Print the indexed documents and their chunks, then exit")
	flag.Parse()
	inputs := flag.Args()

	cfg, _, err := config.Resolve(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// The TUI owns the terminal, so logs go to a file or nowhere.
	logger, closer, err := logging.New(cfg.Logging, io.Discard)
	if err != nil {
		log.Fatalf("failed to set up logging: %v", err)
	}
	defer closer.Close()

	ctx := context.Background()
	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	defer app.Close()

	if len(inputs) > 0 {
		outcomes, err := app.Ingestion.IngestFiles(ctx, inputs)
		if err != nil {
			log.Fatalf("ingest failed: %v", err)
		}
		for _, o := range outcomes {
			switch {
			case o.Err != nil:
				fmt.Printf("✗ %s: %v\n", o.Path, o.Err)
			default:
				fmt.Printf("✓ %s: %s (%d chunks, %s)\n", o.Path, o.Result.Message, o.Result.ChunksProcessed, o.Result.Language)
			}
		}
	}

	if inspect {
		entries, err := app.Index.Entries(ctx)
		if err != nil {
			log.Fatalf("inspect failed: %v", err)
		}
		fmt.Print(renderTree(entries))
		return
	}

	stats, err := app.Index.Stats(ctx)
	if err != nil {
		log.Fatalf("stats failed: %v", err)
	}
	if stats.TotalDocuments == 0 {
		fmt.Println("Usage: rag [--config=config.yaml] [--inspect] file1.txt [file2.txt ...]")
		fmt.Println("The index is empty; pass at least one .txt document.")
		os.Exit(1)
	}

	summary, err := service.SummarizeCorpus(ctx, app.Index, app.Summarizer, cfg.Summarizer.MaxSentences)
	if err != nil {
		logger.Warn("corpus summary failed", "error", err)
	}

	m := tui.New(app.Retrieval, app.Generation, summary)
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		log.Fatal(err)
	}
}

// renderTree groups chunks under their file in insertion order.
func renderTree(entries []domain.Metadata) string {
	tree := treeprint.NewWithRoot(fmt.Sprintf("index (%d chunks)", len(entries)))
	branches := map[string]treeprint.Tree{}
	for _, e := range entries {
		b, ok := branches[e.DocumentID]
		if !ok {
			b = tree.AddMetaBranch(e.Language, e.Filename)
			branches[e.DocumentID] = b
		}
		b.AddMetaNode(e.ChunkIndex, preview(e.Content, 60))
	}
	return tree.String()
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"docsearch/internal/app"
	"docsearch/internal/config"
	"docsearch/internal/extractor"
	"docsearch/internal/search"
	"docsearch/internal/storage"
	"docsearch/internal/vectorstore"
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:      "docsearch-admin",
		Usage:     "Maintenance commands for the document search index",
		Writer:    out,
		ErrWriter: os.Stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Override LOG_LEVEL (debug, info, warn, error)",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "backfill",
				Usage:  "Embed every active document missing from the index",
				Action: backfillCommand,
			},
			{
				Name:      "extract",
				Usage:     "Print the text extracted from a file",
				ArgsUsage: "<file>",
				Action:    extractCommand,
			},
			{
				Name:      "search",
				Usage:     "Run a semantic search",
				ArgsUsage: "<query>",
				Action:    searchCommand,
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:    "department",
						Aliases: []string{"d"},
						Usage:   "Restrict to a department (repeatable)",
					},
					&cli.Int64Flag{
						Name:  "employee-id",
						Usage: "Restrict to one employee's documents",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of results",
						Value: search.DefaultLimit,
					},
				},
			},
			{
				Name:      "reindex",
				Usage:     "Re-extract and re-embed one document",
				ArgsUsage: "<document-id>",
				Action:    reindexCommand,
			},
			{
				Name:  "employees",
				Usage: "Manage employees",
				Subcommands: []*cli.Command{
					{
						Name:   "add",
						Usage:  "Create an employee",
						Action: addEmployeeCommand,
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:     "name",
								Usage:    "Employee name",
								Required: true,
							},
							&cli.StringFlag{
								Name:  "department",
								Usage: "Employee department",
							},
						},
					},
				},
			},
		},
	}
}

func setupLogger(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if lvl := c.String("log-level"); lvl != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(strings.ToLower(lvl))); err != nil {
			return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", lvl)
		}
	}
	// Logs go to stderr so command output stays machine readable.
	slog.SetDefault(app.NewLogger(cfg, os.Stderr))
	return nil
}

// withApp loads configuration, builds the components and runs fn.
func withApp(c *cli.Context, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	ctx := c.Context
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func backfillCommand(c *cli.Context) error {
	return withApp(c, func(ctx context.Context, a *app.App) error {
		stats, err := a.Pipeline.IndexAll(ctx)
		if err != nil {
			return fmt.Errorf("backfill failed: %w", err)
		}
		return printJSON(c, stats)
	})
}

func extractCommand(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return fmt.Errorf("file argument is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	ex := extractor.New(
		extractor.WithOCRCommand(cfg.OCRCommand),
		extractor.WithOCRLanguages(cfg.OCRLanguages),
		extractor.WithEmbeddedImages(cfg.ExtractEmbeddedImages),
	)

	text, err := ex.Extract(c.Context, path, filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.App.Writer, text)
	return err
}

func searchCommand(c *cli.Context) error {
	query := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("query argument is required")
	}

	opts := search.Options{
		Limit:  c.Int("limit"),
		Filter: vectorstore.Filter{Departments: c.StringSlice("department")},
	}
	if c.IsSet("employee-id") {
		id := c.Int64("employee-id")
		opts.Filter.EmployeeID = &id
	}

	return withApp(c, func(ctx context.Context, a *app.App) error {
		res, err := a.Search.SemanticSearch(ctx, query, opts)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		return printJSON(c, res)
	})
}

func reindexCommand(c *cli.Context) error {
	id, err := strconv.ParseInt(c.Args().First(), 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("document id must be a positive integer")
	}

	return withApp(c, func(ctx context.Context, a *app.App) error {
		if err := a.DocumentService.Reindex(ctx, id); err != nil {
			return fmt.Errorf("reindex failed: %w", err)
		}
		_, err := fmt.Fprintf(c.App.Writer, "document %d reindexed\n", id)
		return err
	})
}

func addEmployeeCommand(c *cli.Context) error {
	name := strings.TrimSpace(c.String("name"))
	if name == "" {
		return fmt.Errorf("name must not be empty")
	}

	return withApp(c, func(ctx context.Context, a *app.App) error {
		id, err := a.Employees.Create(ctx, &storage.Employee{Name: name, Department: c.String("department")})
		if err != nil {
			return fmt.Errorf("failed to create employee: %w", err)
		}
		_, err = fmt.Fprintf(c.App.Writer, "employee %d created\n", id)
		return err
	})
}

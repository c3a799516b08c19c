package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/docqa/indexer/internal/artifacts"
	"github.com/docqa/indexer/internal/config"
	"github.com/docqa/indexer/internal/domain"
	"github.com/docqa/indexer/internal/jobstore"
	"github.com/docqa/indexer/internal/logger"
	"github.com/docqa/indexer/internal/orchestrator"
	"github.com/docqa/indexer/internal/resource"
)

var (
	cfg *config.Config
	log *logger.Logger
)

func main() {
	app := &cli.App{
		Name:  "indexer",
		Usage: "Document indexing pipeline orchestrator",
		Description: "Manages GPU-aware document processing through fixed stages:\n" +
			"ocr -> entity_extraction -> community_reports -> embeddings",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
			},
			&cli.StringFlag{
				Name:  "jobs-dir",
				Usage: "Directory for job state files (overrides config)",
			},
		},
		Before: setup,
		After: func(c *cli.Context) error {
			return logger.Sync()
		},
		Commands: []*cli.Command{
			createCommand(),
			runCommand(),
			statusCommand(),
			listCommand(),
			statsCommand(),
			importCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setup(c *cli.Context) error {
	loaded, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	cfg = loaded
	if dir := c.String("jobs-dir"); dir != "" {
		cfg.JobsDir = dir
	}

	log = logger.New(&logger.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		LogFile: cfg.Log.File,
	})
	logger.SetDefault(log)
	return nil
}

func openStore() (*jobstore.Store, error) {
	return jobstore.New(cfg.JobsDir, log)
}

func createCommand() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "Create a new indexing job",
		ArgsUsage: "FILES...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "name",
				Aliases:  []string{"n"},
				Usage:    "Human-readable job name",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return cli.Exit("At least one input file is required", 1)
			}

			var pdfs []string
			for _, f := range c.Args().Slice() {
				if strings.ToLower(filepath.Ext(f)) != ".pdf" {
					fmt.Fprintf(os.Stderr, "Warning: Skipping non-PDF file: %s\n", f)
					continue
				}
				pdfs = append(pdfs, f)
			}
			if len(pdfs) == 0 {
				return cli.Exit("No valid PDF files provided", 1)
			}

			store, err := openStore()
			if err != nil {
				return err
			}
			job, err := store.Create(c.String("name"), pdfs)
			if err != nil {
				return err
			}

			fmt.Printf("Created job: %s\n", job.ID)
			fmt.Printf("  Name: %s\n", job.Name)
			fmt.Printf("  Files: %d\n", len(job.InputFiles))
			fmt.Printf("  Output: %s\n", job.OutputDir)
			fmt.Printf("\nRun with: indexer run %s\n", job.ID)
			return nil
		},
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Run or resume an indexing job",
		ArgsUsage: "JOB_ID",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "from-stage",
				Usage: "Resume from specific stage (default: auto-detect)",
			},
			&cli.StringFlag{
				Name:  "stop-after",
				Usage: "Stop after specific stage",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("Exactly one JOB_ID is required", 1)
			}
			jobID := c.Args().First()

			store, err := openStore()
			if err != nil {
				return err
			}
			job, err := store.Load(jobID)
			if err != nil {
				return err
			}

			fmt.Printf("Starting job: %s - %s\n", job.ID, job.Name)
			fmt.Printf("  Input files: %d\n", len(job.InputFiles))
			fmt.Printf("  Output dir: %s\n\n", job.OutputDir)

			sup := resource.NewDockerSupervisor(cfg.Resource.StopTimeout)
			ctrl := resource.NewController(&cfg.Resource, sup)
			runners, err := orchestrator.NewRunners(cfg.Stages)
			if err != nil {
				return err
			}
			orch := orchestrator.New(store, ctrl, runners, log)

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			final, err := orch.Run(ctx, jobID,
				domain.StageName(c.String("from-stage")),
				domain.StageName(c.String("stop-after")))
			if err != nil {
				if final != nil && final.Error != "" {
					fmt.Fprintf(os.Stderr, "Job failed: %s\n", final.Error)
				}
				return cli.Exit(err.Error(), 1)
			}

			if final.Status == domain.JobStatusCompleted {
				fmt.Println("\nJob completed successfully!")
				fmt.Print(renderJobStats(final))
			} else {
				fmt.Printf("\nJob status: %s\n", final.Status)
			}
			return nil
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show job status",
		ArgsUsage: "JOB_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("Exactly one JOB_ID is required", 1)
			}
			store, err := openStore()
			if err != nil {
				return err
			}
			job, err := store.Load(c.Args().First())
			if err != nil {
				return err
			}
			fmt.Print(renderJobStatus(job))
			return nil
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List all jobs",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Usage:   "Maximum jobs to show",
				Value:   10,
			},
		},
		Action: func(c *cli.Context) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			jobs, err := store.List()
			if err != nil {
				return err
			}
			fmt.Print(renderJobList(jobs, c.Int("limit")))
			return nil
		},
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:      "stats",
		Usage:     "Show detailed job statistics",
		ArgsUsage: "JOB_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("Exactly one JOB_ID is required", 1)
			}
			store, err := openStore()
			if err != nil {
				return err
			}
			job, err := store.Load(c.Args().First())
			if err != nil {
				return err
			}
			fmt.Print(renderJobStats(job))
			return nil
		},
	}
}

func importCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Import a completed job's graph artifacts into the database",
		ArgsUsage: "JOB_ID",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "name",
				Usage: "Collection name (default: job name)",
			},
			&cli.StringFlag{
				Name:  "dir",
				Usage: "Artifact directory (default: the job's graph output)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("Exactly one JOB_ID is required", 1)
			}
			store, err := openStore()
			if err != nil {
				return err
			}
			job, err := store.Load(c.Args().First())
			if err != nil {
				return err
			}

			dir := c.String("dir")
			if dir == "" {
				dir = filepath.Join(job.OutputDir, "graphrag", "output")
			}
			name := c.String("name")
			if name == "" {
				name = job.Name
			}

			db, err := artifacts.InitDB(&cfg.Database, log)
			if err != nil {
				return err
			}
			stats, err := artifacts.NewImporter(db, log).ImportCollection(dir, name)
			if err != nil {
				return err
			}

			fmt.Printf("Imported collection %d (%s)\n", stats.CollectionID, name)
			for table, count := range stats.Counts {
				fmt.Printf("  %s: %d\n", table, count)
			}
			return nil
		},
	}
}

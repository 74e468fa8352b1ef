package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"teachings/config"
	"teachings/logger"
	"teachings/teachings"
	"teachings/transcripts"
	"teachings/whisperx"
)

const usage = `usage: teachings <command> [flags]

commands:
  ingest      split, chunk, embed and index a transcripts directory
  serve       run the question answering HTTP service
  transcribe  transcribe a media file with whisperx and index it
              teachings transcribe [flags] <teaching name> <media file>
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "ingest":
		err = runIngest(ctx, args)
	case "serve":
		err = runServe(ctx, args)
	case "transcribe":
		err = runTranscribe(ctx, args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, flag.ErrHelp) {
		fmt.Fprintf(os.Stderr, "teachings %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func setup(fs *flag.FlagSet, args []string) (config.Config, *logger.Logger, error) {
	configPath := fs.String("config", os.Getenv("TEACHINGS_CONFIG"), "path to a YAML config file")
	if err := fs.Parse(args); err != nil {
		return config.Config{}, nil, err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}

func runIngest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	dir := fs.String("dir", "", "transcripts directory (default from config)")
	window := fs.Int("window-size", 0, "sentences per chunk (default from config)")
	step := fs.Int("step-size", 0, "sentences between chunk starts (default from config)")
	maxChars := fs.Int("max-chars", 0, "maximum characters per chunk (default from config)")
	reset := fs.Bool("reset-index", false, "clear the index before ingesting")
	cfg, log, err := setup(fs, args)
	if err != nil {
		return err
	}
	defer log.Sync()

	if *dir != "" {
		cfg.Ingest.Dir = *dir
	}
	if *window > 0 {
		cfg.Ingest.Chunk.WindowSize = *window
	}
	if *step > 0 {
		cfg.Ingest.Chunk.StepSize = *step
	}
	if *maxChars > 0 {
		cfg.Ingest.Chunk.MaxChars = *maxChars
	}
	if err := cfg.Ingest.Chunk.Validate(); err != nil {
		return err
	}
	if !*reset && cfg.Ingest.Chunk != teachings.DefaultChunkConfig() {
		log.Warn("chunk windows differ from defaults without -reset-index; chunks from earlier runs stay in the index",
			"window_size", cfg.Ingest.Chunk.WindowSize,
			"step_size", cfg.Ingest.Chunk.StepSize,
		)
	}

	d, err := openDeps(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer d.Close()

	loaded, err := transcripts.LoadDir(cfg.Ingest.Dir, log)
	if err != nil {
		return err
	}
	report, err := d.service.Ingest(ctx, loaded.Transcripts, cfg.IngestConfig(*reset))
	if err != nil {
		return err
	}
	return printJSON(struct {
		teachings.IngestReport
		SkippedFiles []transcripts.Skipped `json:"skipped_files,omitempty"`
	}{report, loaded.Skipped})
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	port := fs.Int("port", 0, "listen port (default from config)")
	cfg, log, err := setup(fs, args)
	if err != nil {
		return err
	}
	defer log.Sync()
	if *port > 0 {
		cfg.Port = *port
	}
	return runServer(ctx, cfg, log)
}

func runTranscribe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("transcribe", flag.ContinueOnError)
	outDir := fs.String("out", "", "directory for the whisperx JSON result (default next to the media)")
	cfg, log, err := setup(fs, args)
	if err != nil {
		return err
	}
	defer log.Sync()
	if fs.NArg() != 2 {
		return fmt.Errorf("want <teaching name> <media file>, got %d arguments", fs.NArg())
	}
	name, media := fs.Arg(0), fs.Arg(1)

	tr, err := whisperx.Transcriber{OutputDir: *outDir, Log: log}.Transcribe(ctx, name, media)
	if err != nil {
		return err
	}
	log.Info("transcribed", "teaching", name, "segments", len(tr.Rows), "result", tr.Source)

	d, err := openDeps(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer d.Close()
	report, err := d.service.Ingest(ctx, []teachings.Transcript{tr}, cfg.IngestConfig(false))
	if err != nil {
		return err
	}
	return printJSON(report)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

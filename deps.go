package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"teachings/config"
	"teachings/gcs"
	"teachings/logger"
	"teachings/openai"
	"teachings/pgvector"
	"teachings/pinecone"
	"teachings/rediscache"
	"teachings/teachings"
)

// deps holds the adapters a command runs against, and closes them in
// reverse order of opening.
type deps struct {
	service *teachings.Service
	index   teachings.Index
	closers []func() error
}

func (d *deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i]())
	}
	return errors.Join(errs...)
}

func openDeps(ctx context.Context, cfg config.Config, log *logger.Logger) (*deps, error) {
	if cfg.OpenAI.APIKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}

	d := &deps{}
	fail := func(err error) (*deps, error) {
		_ = d.Close()
		return nil, err
	}

	idx, err := openIndex(ctx, cfg, log, d)
	if err != nil {
		return fail(err)
	}
	d.index = idx

	var emb teachings.Embedder = openai.NewEmbedder(openAIConfig(cfg))
	if cfg.Redis.Addr != "" {
		rdb, err := rediscache.Connect(ctx, cfg.Redis.Addr)
		if err != nil {
			return fail(err)
		}
		d.closers = append(d.closers, rdb.Close)
		emb = rediscache.New(emb, rdb, cfg.OpenAI.EmbeddingModel, cfg.Redis.TTL, log)
	}

	videos, err := openVideos(ctx, cfg, log)
	if err != nil {
		return fail(err)
	}

	d.service = teachings.NewService(d.index, emb, videos,
		teachings.WithLogger(log),
		teachings.WithRateLimit(cfg.Ingest.RequestsPerSec, cfg.Ingest.Workers),
	)
	return d, nil
}

func openAIConfig(cfg config.Config) openai.Config {
	return openai.Config{
		APIKey:         cfg.OpenAI.APIKey,
		BaseURL:        cfg.OpenAI.BaseURL,
		EmbeddingModel: cfg.OpenAI.EmbeddingModel,
		ChatModel:      cfg.OpenAI.ChatModel,
		Speaker:        cfg.OpenAI.Speaker,
		Timeout:        cfg.OpenAI.Timeout,
	}
}

func openIndex(ctx context.Context, cfg config.Config, log *logger.Logger, d *deps) (teachings.Index, error) {
	switch cfg.Index.Backend {
	case config.BackendPinecone:
		return pinecone.New(log, pinecone.Config{
			APIKey:    cfg.Index.PineconeAPIKey,
			Host:      cfg.Index.PineconeHost,
			Namespace: cfg.Index.PineconeNamespace,
		})
	case config.BackendPgvector:
		db, err := pgvector.Connect(cfg.Index.DatabaseURL)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, db.Close)
		return pgvector.New(ctx, db, cfg.OpenAI.Dimensions)
	default:
		db, err := initDB(cfg.Index.SQLitePath)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, db.Close)
		return teachings.NewSQLiteIndex(ctx, db)
	}
}

// openVideos merges the JSON mapping file, when present, with the videos
// listed in the bucket, when one is configured. Mapping entries win.
func openVideos(ctx context.Context, cfg config.Config, log *logger.Logger) (teachings.VideoCatalog, error) {
	var entries []teachings.VideoEntry

	if path := cfg.Videos.MappingFile; path != "" {
		f, err := os.Open(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			log.Warn("video mapping file not found", "path", path)
		case err != nil:
			return teachings.VideoCatalog{}, fmt.Errorf("opening video mapping: %w", err)
		default:
			mapped, err := teachings.LoadVideoMapping(f)
			f.Close()
			if err != nil {
				return teachings.VideoCatalog{}, err
			}
			entries = append(entries, mapped...)
		}
	}

	if cfg.Videos.Bucket != "" {
		catalog, err := gcs.NewCatalog(ctx, log, cfg.Videos.Bucket, cfg.Videos.Prefix)
		if err != nil {
			return teachings.VideoCatalog{}, err
		}
		defer catalog.Close()
		listed, err := catalog.Entries(ctx)
		if err != nil {
			return teachings.VideoCatalog{}, err
		}
		entries = append(entries, listed...)
	}

	c := teachings.NewVideoCatalog(entries)
	log.Info("video catalog ready", "videos", c.Len())
	return c, nil
}

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"warehouse/internal/config"
	"warehouse/internal/etl"
	"warehouse/internal/source"
	"warehouse/internal/staging"
	"warehouse/internal/star"
	"warehouse/internal/storage"
)

// runPipeline executes one full refresh: open the backend, drop and recreate
// the schema, bulk-copy both raw datasets into staging, then run the analytic
// transform.
func runPipeline(ctx context.Context, p config.Pipeline, logger *log.Logger) (etl.LoadSummary, error) {
	var sum etl.LoadSummary

	repo, err := storage.New(ctx, storage.Config{
		Kind: p.Storage.Kind,
		DSN:  os.ExpandEnv(p.Storage.DSN),
	})
	if err != nil {
		return sum, fmt.Errorf("storage: %w", err)
	}
	defer repo.Close()

	s3c, err := s3ClientFor(p.Sources)
	if err != nil {
		return sum, err
	}
	events, err := source.FromURL(p.Sources.Events, s3c)
	if err != nil {
		return sum, err
	}
	songs, err := source.FromURL(p.Sources.Songs, s3c)
	if err != nil {
		return sum, err
	}

	resetStart := time.Now()
	if err := star.ResetSchema(ctx, repo); err != nil {
		return sum, fmt.Errorf("reset schema: %w", err)
	}
	logger.Printf("stage=reset_schema ok duration=%s", time.Since(resetStart).Truncate(time.Millisecond))

	loader := &staging.Loader{Repo: repo, Logger: logger, BatchSize: p.Runtime.BatchSize}
	st, err := loader.Load(ctx, events, songs)
	if err != nil {
		return sum, err
	}
	logger.Printf("stage=staging events_copied=%d events_skipped=%d songs_copied=%d songs_skipped=%d",
		st.EventsCopied, st.EventsSkipped, st.SongsCopied, st.SongsSkipped)

	engine := &etl.Engine{
		Repo:      repo,
		Logger:    logger,
		Match:     matcherFor(p.Matching.Strategy),
		BatchSize: p.Runtime.BatchSize,
	}
	return engine.Run(ctx)
}

func matcherFor(strategy string) etl.Matcher {
	if strategy == "folded" {
		return etl.FoldedMatch
	}
	return etl.ExactMatch
}

// s3ClientFor builds one shared S3 client when any source location is an
// s3:// URL. Credentials and region come from the standard AWS environment
// and shared config.
func s3ClientFor(src config.Sources) (s3iface.S3API, error) {
	if !strings.HasPrefix(src.Events, "s3://") && !strings.HasPrefix(src.Songs, "s3://") {
		return nil, nil
	}
	sess, err := session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}
	return s3.New(sess), nil
}

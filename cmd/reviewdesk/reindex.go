package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"reviewdesk/api/internal/config"
	"reviewdesk/api/internal/logger"
	"reviewdesk/api/internal/search"
	"reviewdesk/api/internal/store"
)

func reindexCmd() *cobra.Command {
	var batchSize int

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Push every sample into the Meilisearch index",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if strings.TrimSpace(cfg.MeiliURL) == "" {
				return fmt.Errorf("MEILI_URL is not configured")
			}
			log, err := logger.New(cfg.LogMode)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx := context.Background()
			db, err := store.Open(ctx, cfg.DatabaseURL, store.DefaultPoolOptions())
			if err != nil {
				return err
			}
			defer db.Close()

			dataStore := store.NewPostgresStore(db)
			samples, err := dataStore.ListSamples(ctx)
			if err != nil {
				return err
			}

			searchService, closeSearch := newSearchService(cfg, dataStore, log)
			defer closeSearch()

			indexed, err := searchService.Reindex(sampleRecords(samples), batchSize)
			if err != nil {
				return err
			}
			fmt.Printf("Indexed %d of %d samples\n", indexed, len(samples))
			return nil
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 500, "documents per indexing request")
	return cmd
}

func sampleRecords(samples []store.Sample) []search.SampleRecord {
	records := make([]search.SampleRecord, 0, len(samples))
	for _, sample := range samples {
		records = append(records, search.SampleRecord{
			ID:          sample.ID,
			PrincipleID: deref(sample.PrincipleID),
			Preceding:   deref(sample.Preceding),
			Target:      sample.Target,
			Following:   deref(sample.Following),
		})
	}
	return records
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

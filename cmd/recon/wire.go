package main

import (
	"context"
	"fmt"

	"github.com/dvloznov/ledger-recon/internal/config"
	"github.com/dvloznov/ledger-recon/internal/domain"
	"github.com/dvloznov/ledger-recon/internal/enrich"
	"github.com/dvloznov/ledger-recon/internal/gcsuploader"
	infra "github.com/dvloznov/ledger-recon/internal/infra/bigquery"
	"github.com/dvloznov/ledger-recon/internal/logger"
	"github.com/dvloznov/ledger-recon/internal/metrics"
	"github.com/dvloznov/ledger-recon/internal/notify"
	"github.com/dvloznov/ledger-recon/internal/pipeline"
	"github.com/dvloznov/ledger-recon/internal/report"
	"github.com/dvloznov/ledger-recon/internal/source"
)

// tableRef places name in the configured project and dataset. An empty name
// yields an empty TableRef, which disables the sink using it.
func tableRef(cfg *config.Config, name string) infra.TableRef {
	if name == "" {
		return infra.TableRef{}
	}
	return infra.TableRef{Project: cfg.BigQueryProject, Dataset: cfg.BigQueryDataset, Table: name}
}

// newRegistries registers one loader per supported mode. The bigquery mode
// is only available when bq is non-nil.
func newRegistries(cfg *config.Config, storage gcsuploader.StorageService, bq infra.TransactionSource) (*source.Registry, *source.Registry) {
	internalMapping := source.FieldMapping(cfg.InternalFieldMapping)

	internal := source.NewRegistry(domain.SourceInternal)
	internal.Register(source.ModeMock, source.NewCSVLoader(cfg.InternalDataPath, internalMapping, storage))
	internal.Register(source.ModeMongo, source.NewMongoLoader(cfg.MongoURI, cfg.MongoDB, cfg.MongoCollection, internalMapping))
	internal.Register(source.ModeSQL, source.NewSQLLoader(cfg.SQLDBURI, cfg.SQLQueryTable, internalMapping))
	if bq != nil {
		internal.Register(source.ModeBigQuery, source.NewBigQueryLoader(bq, tableRef(cfg, cfg.BigQueryTable), internalMapping))
	}

	gateway := source.NewRegistry(domain.SourceGateway)
	gateway.Register(source.ModeMock, source.NewCSVLoader(cfg.GatewayDataPath, nil, storage))
	gateway.Register(source.ModePaystack, source.NewPaystackLoader(cfg.PaystackAPIURL, cfg.PaystackSecret,
		source.FieldMapping(cfg.GatewayMappings[source.ModePaystack]), cfg.HTTPTimeout))
	gateway.Register(source.ModeStripe, source.NewStripeLoader(cfg.StripeAPIURL, cfg.StripeSecretKey,
		source.FieldMapping(cfg.GatewayMappings[source.ModeStripe]), cfg.HTTPTimeout))

	return internal, gateway
}

// newSenders returns the enabled alert senders.
func newSenders(cfg *config.Config) []notify.Sender {
	var senders []notify.Sender
	if cfg.UseSlack {
		senders = append(senders, notify.NewSlackSender(cfg.SlackBotToken, cfg.SlackChannelID))
	}
	if cfg.UseNotion {
		senders = append(senders, notify.NewNotionSender(notify.NewNotionClient(cfg.NotionToken), cfg.NotionDatabaseID))
	}
	return senders
}

// needsBigQuery reports whether any configured component reads or writes BigQuery.
func needsBigQuery(cfg *config.Config) bool {
	if cfg.BigQueryProject == "" {
		return false
	}
	return cfg.InternalMode == source.ModeBigQuery || cfg.ReportBigQueryTable != "" || cfg.RunsBigQueryTable != ""
}

// buildDependencies wires a run from cfg. The returned cleanup closes the
// clients that hold connections and must be called once the run is over.
func buildDependencies(ctx context.Context, cfg *config.Config) (pipeline.Dependencies, func(), error) {
	log := logger.FromContext(ctx)
	cleanup := func() {}

	storage := gcsuploader.NewGCSStorageService()

	var repo *infra.Repository
	if needsBigQuery(cfg) {
		var err error
		repo, err = infra.NewRepository(ctx, cfg.BigQueryProject, infra.Tables{
			Runs:          tableRef(cfg, cfg.RunsBigQueryTable),
			Discrepancies: tableRef(cfg, cfg.ReportBigQueryTable),
		})
		if err != nil {
			return pipeline.Dependencies{}, cleanup, fmt.Errorf("buildDependencies: %w", err)
		}
		cleanup = func() {
			if err := repo.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close BigQuery client")
			}
		}
	}

	var bq infra.TransactionSource
	if repo != nil {
		bq = repo
	}
	internal, gateway := newRegistries(cfg, storage, bq)

	var explainer enrich.Explainer
	if cfg.UseAI {
		gemini, err := enrich.NewGeminiExplainer(ctx, cfg.AIAPIKey, cfg.AIModel)
		if err != nil {
			// Without a client every eligible record gets the unavailability placeholder.
			log.Error().Err(err).Msg("Failed to create AI explainer")
		} else {
			explainer = gemini
		}
	}

	deps := pipeline.Dependencies{
		InternalSources: internal,
		GatewaySources:  gateway,
		InternalMode:    cfg.InternalMode,
		GatewayMode:     cfg.GatewayMode,
		Policy:          cfg.Policy(),
		Enricher: enrich.New(enrich.Options{
			Enabled:       cfg.UseAI,
			Limit:         cfg.AILimit,
			Timeout:       cfg.AITimeout,
			RatePerSecond: cfg.AIRatePerSec,
		}, explainer),
		Writer:         report.NewWriter(cfg.ReportDir),
		Trigger:        notify.NewTrigger(newSenders(cfg)...),
		Metrics:        metrics.New(),
		PushgatewayURL: cfg.PushgatewayURL,
	}
	if cfg.ReportBucket != "" {
		deps.Uploader = gcsuploader.NewReportUploader(storage, cfg.ReportBucket)
	}
	if repo != nil {
		deps.Runs = repo
	}

	return deps, cleanup, nil
}

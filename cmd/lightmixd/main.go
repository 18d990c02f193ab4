// lightmixd serves a trained model over HTTP and keeps it fresh: labeled
// feedback rows arrive on a WebSocket feed, get batched, and are folded into
// every mixer that supports incremental updates. Each adjustment is snapshot
// into versioned storage.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"lightmix/internal/cfg"
	"lightmix/internal/dataset"
	"lightmix/internal/ingest"
	"lightmix/internal/metrics"
	"lightmix/internal/predictor"
	"lightmix/internal/server"
	"lightmix/internal/storage"

	_ "lightmix/internal/mixer/centroid"
	_ "lightmix/internal/mixer/knn"
	_ "lightmix/internal/mixer/sgd"
)

func main() {
	_ = godotenv.Load()

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	mw := metrics.NewWrapper(m)

	store := initializeStorage(c)
	if store != nil {
		defer store.Close()
	}

	pred := loadOrTrain(ctx, c, mw, store)

	startMetricsServer(ctx, c, m, pred)
	startModelServer(ctx, c, pred)

	rows := make(chan map[string]string, 256)
	errs := make(chan error, 32)

	var wg sync.WaitGroup
	startErrorHandler(ctx, &wg, errs, m)
	if c.FeedURL != "" {
		startFeedHandler(ctx, &wg, c, rows, errs)
		startAdjustLoop(ctx, &wg, c, pred, store, rows, m)
	} else {
		log.Info().Msg("no feed URL configured, running without live adjustment")
	}

	startModelAgeTicker(ctx, &wg, m, pred)

	waitForShutdown(ctx, cancel, &wg)
}

// initializeStorage opens versioned model storage if DATA_PATH is configured.
func initializeStorage(c cfg.Settings) *storage.Store {
	if c.DataPath == "" {
		return nil
	}
	store, err := storage.New(c.DataPath)
	if err != nil {
		log.Warn().Err(err).Msg("storage initialization failed, continuing without persistence")
		return nil
	}
	return store
}

// loadOrTrain restores the latest stored model, or trains one from the
// configured CSV when none exists yet.
func loadOrTrain(ctx context.Context, c cfg.Settings, mw *metrics.Wrapper, store *storage.Store) *predictor.Predictor {
	if store != nil {
		if blob, meta, err := store.LoadLatest(c.ModelName); err == nil {
			pred, err := predictor.Load(blob, mw)
			if err == nil {
				log.Info().
					Str("model", c.ModelName).
					Uint64("version", meta.Version).
					Time("trainedAt", meta.TrainedAt).
					Msg("model restored from storage")
				return pred
			}
			log.Warn().Err(err).Msg("stored model unreadable, retraining")
		}
	}

	if c.DefinitionPath == "" || c.TrainCSV == "" {
		log.Fatal().Msg("no stored model and no DEFINITION_PATH/TRAIN_CSV to train from")
	}

	def, err := predictor.LoadDefinition(c.DefinitionPath)
	if err != nil {
		log.Fatal().Err(err).Msg("definition load failed")
	}
	if def.TimeBudget == 0 {
		def.TimeBudget = c.TimeBudget
	}
	if def.RetainRows == 0 {
		def.RetainRows = c.RetainRows
	}

	pred, err := predictor.New(def, mw)
	if err != nil {
		log.Fatal().Err(err).Msg("predictor construction failed")
	}

	frame, err := ingest.ReadCSV(c.TrainCSV)
	if err != nil {
		log.Fatal().Err(err).Msg("training data load failed")
	}
	if err := pred.Learn(ctx, frame); err != nil {
		log.Fatal().Err(err).Msg("training failed")
	}

	saveSnapshot(c, pred, store)
	return pred
}

func saveSnapshot(c cfg.Settings, pred *predictor.Predictor, store *storage.Store) {
	if store == nil {
		return
	}
	blob, err := pred.Save()
	if err != nil {
		log.Error().Err(err).Msg("model snapshot failed")
		return
	}
	version, err := store.SaveModel(c.ModelName, blob, storage.Meta{
		TrainedAt: pred.TrainedAt(),
		Rows:      pred.TrainRows(),
		Mixers:    pred.MixerNames(),
	})
	if err != nil {
		log.Error().Err(err).Msg("model save failed")
		return
	}
	log.Info().Str("model", c.ModelName).Uint64("version", version).Msg("model snapshot stored")
}

// startMetricsServer starts the Prometheus metrics HTTP server.
func startMetricsServer(ctx context.Context, c cfg.Settings, m *metrics.Metrics, pred *predictor.Predictor) {
	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			if !pred.Trained() {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})
		mux.Handle("/metrics", promhttp.Handler())

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", c.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		go func() {
			<-ctx.Done()
			if err := srv.Shutdown(context.Background()); err != nil {
				log.Error().Err(err).Msg("failed to shutdown metrics server")
			}
		}()

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

// startModelServer starts the prediction API server.
func startModelServer(ctx context.Context, c cfg.Settings, pred *predictor.Predictor) {
	srv := server.NewModelServer(pred, c.ListenPort)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("failed to shutdown model server")
		}
	}()
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("model server failed")
		}
	}()
}

// startErrorHandler drains the background error channel into logs and metrics.
func startErrorHandler(ctx context.Context, wg *sync.WaitGroup, errs chan error, m *metrics.Metrics) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-errs:
				log.Error().Err(err).Msg("background error")
				if errors.Is(err, ingest.ErrReconnect) {
					m.IngestReconnects.Inc()
				}
				m.ErrorsTotal.Inc()
			}
		}
	}()
}

// startFeedHandler streams labeled feedback rows from the WebSocket feed.
func startFeedHandler(ctx context.Context, wg *sync.WaitGroup, c cfg.Settings, rows chan map[string]string, errs chan error) {
	feed := ingest.NewFeed(c.FeedURL)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := feed.Stream(ctx, c.FeedStream, rows, errs, c.Ping); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("feed stream ended")
			select {
			case errs <- err:
			default:
			}
		}
	}()
}

// startAdjustLoop batches feedback rows and folds them into the model. A
// batch is flushed when it reaches the configured size or when the interval
// ticker fires with rows pending.
func startAdjustLoop(ctx context.Context, wg *sync.WaitGroup, c cfg.Settings, pred *predictor.Predictor, store *storage.Store, rows chan map[string]string, m *metrics.Metrics) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		def := pred.Definition()
		columns := append(append([]string(nil), def.Features...), def.Target)

		batch := make([]map[string]string, 0, c.AdjustBatchSize)
		ticker := time.NewTicker(c.AdjustInterval)
		defer ticker.Stop()

		flush := func() {
			if len(batch) == 0 {
				return
			}
			frame := dataset.FromMaps(columns, batch)
			// Background context so the final flush on shutdown still lands.
			if err := pred.Adjust(context.Background(), frame); err != nil {
				log.Warn().Err(err).Int("rows", len(batch)).Msg("adjustment incomplete")
			} else {
				log.Info().Int("rows", len(batch)).Msg("model adjusted from feedback")
			}
			saveSnapshot(c, pred, store)
			batch = batch[:0]
		}

		for {
			select {
			case <-ctx.Done():
				flush()
				return
			case row := <-rows:
				m.IngestRows.Inc()
				batch = append(batch, row)
				if len(batch) >= c.AdjustBatchSize {
					flush()
				}
			case <-ticker.C:
				flush()
			}
		}
	}()
}

// startModelAgeTicker keeps the model age gauge current.
func startModelAgeTicker(ctx context.Context, wg *sync.WaitGroup, m *metrics.Metrics, pred *predictor.Predictor) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.ModelAge.Set(time.Since(pred.TrainedAt()).Seconds())
			}
		}
	}()
}

// waitForShutdown blocks until a signal arrives, then stops all goroutines.
func waitForShutdown(ctx context.Context, cancel context.CancelFunc, wg *sync.WaitGroup) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("context canceled")
	}

	log.Info().Msg("shutting down gracefully...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all goroutines stopped")
	case <-time.After(10 * time.Second):
		log.Warn().Msg("shutdown timeout, forcing exit")
	}
}

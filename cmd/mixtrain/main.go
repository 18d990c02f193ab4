// mixtrain trains a model from a definition and a dataset, reports accuracy,
// and stores the snapshot for lightmixd to serve.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"lightmix/internal/dataset"
	"lightmix/internal/ingest"
	"lightmix/internal/predictor"
	"lightmix/internal/storage"

	_ "lightmix/internal/mixer/centroid"
	_ "lightmix/internal/mixer/knn"
	_ "lightmix/internal/mixer/sgd"
)

func main() {
	_ = godotenv.Load()

	var (
		defPath    = flag.String("definition", "", "path to the YAML predictor definition (required)")
		csvPath    = flag.String("csv", "", "path to a training CSV")
		baseURL    = flag.String("remote", "", "base URL of a dataset service to fetch rows from")
		dataPath   = flag.String("data", "", "directory for the model store; omit to skip persistence")
		name       = flag.String("name", "", "model name in the store (defaults to the definition name)")
		timeBudget = flag.Duration("budget", time.Minute, "advisory training time budget")
		pageSize   = flag.Int("page-size", 500, "rows per request when fetching remotely")
	)
	flag.Parse()

	if *defPath == "" {
		fmt.Fprintln(os.Stderr, "mixtrain: -definition is required")
		flag.Usage()
		os.Exit(2)
	}
	if (*csvPath == "") == (*baseURL == "") {
		fmt.Fprintln(os.Stderr, "mixtrain: exactly one of -csv or -remote is required")
		os.Exit(2)
	}

	ctx := context.Background()

	def, err := predictor.LoadDefinition(*defPath)
	if err != nil {
		log.Fatal().Err(err).Msg("definition load failed")
	}
	if def.TimeBudget == 0 {
		def.TimeBudget = *timeBudget
	}
	modelName := *name
	if modelName == "" {
		modelName = def.Name
	}

	frame, err := loadFrame(ctx, def, *csvPath, *baseURL, *pageSize)
	if err != nil {
		log.Fatal().Err(err).Msg("training data load failed")
	}
	log.Info().Int("rows", frame.Len()).Msg("training data loaded")

	pred, err := predictor.New(def, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("predictor construction failed")
	}

	start := time.Now()
	if err := pred.Learn(ctx, frame); err != nil {
		log.Fatal().Err(err).Msg("training failed")
	}

	acc, err := pred.Accuracy(ctx, frame)
	if err != nil {
		log.Fatal().Err(err).Msg("accuracy evaluation failed")
	}
	log.Info().
		Str("model", modelName).
		Float64("accuracy", acc).
		Dur("took", time.Since(start)).
		Msg("training complete")

	if *dataPath == "" {
		log.Info().Msg("no -data directory given, skipping persistence")
		return
	}

	store, err := storage.New(*dataPath)
	if err != nil {
		log.Fatal().Err(err).Msg("store open failed")
	}
	defer store.Close()

	blob, err := pred.Save()
	if err != nil {
		log.Fatal().Err(err).Msg("model snapshot failed")
	}
	version, err := store.SaveModel(modelName, blob, storage.Meta{
		TrainedAt: pred.TrainedAt(),
		Rows:      pred.TrainRows(),
		Accuracy:  acc,
		Mixers:    pred.MixerNames(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("model save failed")
	}
	log.Info().Str("model", modelName).Uint64("version", version).Msg("model stored")
}

func loadFrame(ctx context.Context, def predictor.Definition, csvPath, baseURL string, pageSize int) (*dataset.Frame, error) {
	if csvPath != "" {
		return ingest.ReadCSV(csvPath)
	}
	columns := append(append([]string(nil), def.Features...), def.Target)
	client := ingest.NewClient(baseURL, 10*time.Second)
	return client.FetchFrame(ctx, columns, pageSize)
}

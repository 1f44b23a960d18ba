package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"math/rand"
	"os"
	"sort"
	"strings"
	"time"

	"sound-hunter/db"
	"sound-hunter/detector"
	"sound-hunter/models"
	"sound-hunter/synth"
	"sound-hunter/utils"

	"github.com/joho/godotenv"
)

// Config holds training configuration
type Config struct {
	OutputPath string
	Labels     []string
	Epochs     int
	Seed       int64
	PerKind    int
	Duration   float64
	SampleRate int
	SaveToDB   bool
	Verbose    bool
}

func main() {
	_ = godotenv.Load()
	config := parseFlags()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("=== Sound Detector Training ===\n")
	log.Printf("Targets: %s\n", strings.Join(config.Labels, ", "))
	log.Printf("Epochs: %d, seed: %d\n", config.Epochs, config.Seed)
	log.Printf("Output model: %s\n", config.OutputPath)
	log.Println()

	startTime := time.Now()

	// Step 1: Synthesise the labelled dataset
	log.Println("Step 1: Generating training data...")
	rng := rand.New(rand.NewSource(config.Seed))
	samples := synth.Dataset(synth.Kinds, config.PerKind, config.Duration, config.SampleRate, rng)
	dataset := make([]detector.LabeledWaveform, len(samples))
	counts := map[string]int{}
	for i, s := range samples {
		dataset[i] = detector.LabeledWaveform{
			Waveform: detector.Waveform{Samples: s.Samples, SampleRate: s.SampleRate},
			Label:    s.Label,
		}
		counts[s.Label]++
	}
	for _, kind := range synth.Kinds {
		log.Printf("  - %s: %d samples\n", kind, counts[string(kind)])
	}
	log.Println()

	// Step 2: Train one detector per target label
	log.Println("Step 2: Searching filter parameters...")
	logger := utils.DiscardLogger()
	if config.Verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	trainStart := time.Now()
	set, err := detector.TrainAll(context.Background(), dataset, config.Labels, config.Epochs, config.Seed, logger)
	if err != nil {
		log.Fatalf("ERROR: Training failed: %v", err)
	}
	trainElapsed := time.Since(trainStart)
	log.Println()

	// Step 3: Save models
	log.Println("Step 3: Saving models to disk...")
	registry := detector.NewModelRegistry(config.OutputPath, logger)
	for _, label := range config.Labels {
		if err := registry.Put(set[label]); err != nil {
			log.Fatalf("ERROR: Invalid model for %s: %v", label, err)
		}
	}
	if err := registry.Save(); err != nil {
		log.Fatalf("ERROR: Failed to save models: %v", err)
	}
	log.Printf("Models saved to: %s\n", registry.Path())

	if config.SaveToDB {
		if err := mirrorToDB(set, config, trainElapsed); err != nil {
			log.Printf("WARNING: Failed to mirror models to database: %v\n", err)
		}
	}
	log.Println()

	printTrainingSummary(registry, startTime)
}

func parseFlags() Config {
	config := Config{}
	var labels string

	flag.StringVar(&config.OutputPath, "output", utils.GetEnv("HUNTER_MODEL_PATH", "trained_models.json"),
		"Output path for trained models (JSON)")
	flag.StringVar(&labels, "labels", "bird,motorcycle,whistle",
		"Comma separated target labels to train")
	flag.IntVar(&config.Epochs, "epochs", 20, "Training epochs per label")
	flag.Int64Var(&config.Seed, "seed", 42, "Random seed for data generation and search")
	flag.IntVar(&config.PerKind, "per-kind", 5, "Generated samples per sound kind")
	flag.Float64Var(&config.Duration, "duration", 1.0, "Duration of each sample in seconds")
	flag.IntVar(&config.SampleRate, "sample-rate", synth.DefaultSampleRate, "Sample rate in Hz")
	flag.BoolVar(&config.SaveToDB, "db", false, "Also store models and run history in the database selected by DB_TYPE")
	flag.BoolVar(&config.Verbose, "verbose", false, "Log every epoch")

	flag.Parse()

	for _, raw := range strings.Split(labels, ",") {
		kind, err := synth.ParseKind(raw)
		if err != nil {
			log.Fatalf("ERROR: %v", err)
		}
		config.Labels = append(config.Labels, string(kind))
	}
	if config.Epochs < 1 {
		log.Fatalf("ERROR: epochs must be at least 1")
	}
	if config.SampleRate < detector.MinSampleRate {
		log.Fatalf("ERROR: sample rate must be at least %d", detector.MinSampleRate)
	}

	return config
}

func mirrorToDB(set detector.ModelSet, config Config, elapsed time.Duration) error {
	client, err := db.NewDBClient()
	if err != nil {
		return err
	}
	defer client.Close()

	perLabel := float64(elapsed.Milliseconds()) / float64(max(len(set), 1))
	for i, label := range config.Labels {
		model := set[label]
		if err := client.StoreModel(model); err != nil {
			return err
		}
		run := &models.TrainingRun{
			Label:           label,
			Epochs:          model.Epochs,
			Seed:            config.Seed + int64(i),
			LowFreq:         model.FilterParams.LowFreq,
			HighFreq:        model.FilterParams.HighFreq,
			BestEnergyRatio: model.BestEnergyRatio,
			TargetSamples:   model.TargetSamples,
			DurationMs:      perLabel,
		}
		if err := client.StoreTrainingRun(run); err != nil {
			return err
		}
	}
	log.Printf("Mirrored %d models to the %s database\n", len(set), utils.GetEnv("DB_TYPE", "sqlite"))
	return nil
}

func printTrainingSummary(registry *detector.ModelRegistry, startTime time.Time) {
	elapsed := time.Since(startTime)
	stats := registry.Stats()
	sort.Slice(stats.Labels, func(i, j int) bool { return stats.Labels[i].Label < stats.Labels[j].Label })

	log.Println("=== Training Summary ===")
	log.Println()
	for _, s := range stats.Labels {
		model, _ := registry.Get(s.Label)
		status := "ok"
		switch {
		case s.Degenerate && model.TargetSamples == 0:
			status = "DEGENERATE (no target samples)"
		case s.Degenerate:
			status = "DEGENERATE (all-zero pattern)"
		}
		log.Printf("  %-12s [%7.1f Hz - %7.1f Hz]  ratio=%10.4g  pattern=%.3f  %s\n",
			s.Label, s.LowFreq, s.HighFreq, model.BestEnergyRatio, model.TargetPattern[:4], status)
	}
	log.Println()
	log.Printf("Total training time: %.2f seconds\n", elapsed.Seconds())
	log.Println("✓ Training complete!")
}

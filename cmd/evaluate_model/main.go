package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"sound-hunter/detector"
	"sound-hunter/synth"
	"sound-hunter/utils"

	"github.com/fatih/color"
)

// EvaluationConfig holds evaluation parameters
type EvaluationConfig struct {
	ModelPath  string
	Threshold  float64
	Duration   float64
	SampleRate int
	Seed       int64
	ReportPath string
}

// Cell is one detector × test sound outcome.
type Cell struct {
	Detector   string  `json:"detector"`
	Sound      string  `json:"sound"`
	Detected   bool    `json:"detected"`
	Confidence float64 `json:"confidence"`
	Energy     float64 `json:"energy"`
}

// EvaluationReport contains the detection matrix and its summary.
type EvaluationReport struct {
	Timestamp      time.Time `json:"timestamp"`
	ModelPath      string    `json:"modelPath"`
	Threshold      float64   `json:"threshold"`
	Cells          []Cell    `json:"cells"`
	TruePositives  int       `json:"truePositives"`
	FalsePositives int       `json:"falsePositives"`
	Misses         int       `json:"misses"`
	Accuracy       float64   `json:"accuracy"`
}

var (
	green  = color.New(color.FgGreen, color.Bold)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
)

func main() {
	config := parseFlags()

	log.SetFlags(log.Ldate | log.Ltime)
	log.Println("=== Detector Evaluation ===")
	log.Printf("Model: %s\n", config.ModelPath)
	log.Printf("Threshold: %.2f\n", config.Threshold)
	log.Println()

	registry, err := detector.LoadModelRegistry(config.ModelPath, utils.DiscardLogger())
	if err != nil {
		log.Fatalf("ERROR: Failed to load models: %v", err)
	}
	labels := registry.Labels()
	if len(labels) == 0 {
		log.Fatalf("ERROR: No models in %s", config.ModelPath)
	}
	log.Printf("Loaded %d detectors: %v\n", len(labels), labels)
	log.Println()

	report := evaluate(registry, config)
	printMatrix(report, labels)

	if config.ReportPath != "" {
		if err := saveReport(report, config.ReportPath); err != nil {
			log.Printf("WARNING: Failed to save report: %v\n", err)
		} else {
			log.Printf("Report saved to: %s\n", config.ReportPath)
		}
	}
}

func parseFlags() EvaluationConfig {
	config := EvaluationConfig{}

	flag.StringVar(&config.ModelPath, "model", utils.GetEnv("HUNTER_MODEL_PATH", "trained_models.json"),
		"Path to trained models (JSON)")
	flag.Float64Var(&config.Threshold, "threshold", 0.7, "Detection threshold")
	flag.Float64Var(&config.Duration, "duration", 1.0, "Test sound duration in seconds")
	flag.IntVar(&config.SampleRate, "sample-rate", synth.DefaultSampleRate, "Sample rate in Hz")
	flag.Int64Var(&config.Seed, "seed", 7, "Random seed for the noise test sound")
	flag.StringVar(&config.ReportPath, "report", "", "Path to save the evaluation report (empty to skip)")

	flag.Parse()

	if config.Threshold < 0 || config.Threshold > 1 {
		log.Fatalf("ERROR: threshold must be within [0, 1]")
	}
	return config
}

func evaluate(registry *detector.ModelRegistry, config EvaluationConfig) EvaluationReport {
	rng := rand.New(rand.NewSource(config.Seed))
	pipeline := detector.NewPipeline(config.Threshold, nil)

	report := EvaluationReport{
		Timestamp: time.Now(),
		ModelPath: config.ModelPath,
		Threshold: config.Threshold,
	}

	correct := 0
	for _, kind := range synth.Kinds {
		waveform := detector.Waveform{
			Samples:    synth.TestTone(kind, config.Duration, config.SampleRate, rng),
			SampleRate: config.SampleRate,
		}
		for _, label := range registry.Labels() {
			model, _ := registry.Get(label)
			detection, err := pipeline.Detect(waveform, model)
			if err != nil {
				log.Printf("WARNING: %s on %s failed: %v\n", label, kind, err)
				continue
			}
			cell := Cell{
				Detector:   label,
				Sound:      string(kind),
				Detected:   detection.Result.IsMatch,
				Confidence: detection.Result.Confidence,
				Energy:     detection.Energy,
			}
			report.Cells = append(report.Cells, cell)

			expected := label == string(kind)
			switch {
			case cell.Detected && expected:
				report.TruePositives++
				correct++
			case cell.Detected:
				report.FalsePositives++
			case expected:
				report.Misses++
			default:
				correct++
			}
		}
	}
	if len(report.Cells) > 0 {
		report.Accuracy = float64(correct) / float64(len(report.Cells))
	}
	return report
}

func printMatrix(report EvaluationReport, labels []string) {
	fmt.Printf("%-12s", "sound \\ det")
	for _, label := range labels {
		fmt.Printf(" %-14s", label)
	}
	fmt.Println()

	for _, kind := range synth.Kinds {
		fmt.Printf("%-12s", kind)
		for _, label := range labels {
			cell, ok := findCell(report.Cells, label, string(kind))
			if !ok {
				fmt.Printf(" %-14s", "-")
				continue
			}
			text := fmt.Sprintf("%s %.3f", mark(cell.Detected), cell.Confidence)
			expected := label == string(kind)
			switch {
			case cell.Detected && expected:
				green.Printf(" %-14s", text)
			case cell.Detected:
				red.Printf(" %-14s", text)
			case expected:
				yellow.Printf(" %-14s", text)
			default:
				fmt.Printf(" %-14s", text)
			}
		}
		fmt.Println()
	}

	fmt.Println()
	fmt.Printf("True positives: %d, false positives: %d, misses: %d\n",
		report.TruePositives, report.FalsePositives, report.Misses)
	fmt.Printf("Accuracy: %.1f%%\n", report.Accuracy*100)
}

func mark(detected bool) string {
	if detected {
		return "✓"
	}
	return "✗"
}

func findCell(cells []Cell, label, sound string) (Cell, bool) {
	for _, c := range cells {
		if c.Detector == label && c.Sound == sound {
			return c, true
		}
	}
	return Cell{}, false
}

func saveReport(report EvaluationReport, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := utils.CreateFolder(dir); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"digitnet/internal/config"
	"digitnet/internal/dataset"
	"digitnet/internal/trainer"
)

const usage = `usage:
  digitnet train   [-config file.yaml] [flags]
  digitnet predict [-model model.json] [flags] image...

Run "digitnet <command> -h" for the flags of a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "train":
		err = runTrain(os.Args[2:])
	case "predict":
		err = runPredict(os.Args[2:], os.Stdout)
	case "help", "-h", "-help", "--help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		klog.Fatalf("%s failed: %+v", os.Args[1], err)
	}
	klog.Flush()
}

func runTrain(args []string) error {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	klog.InitFlags(fs)
	cfgPath := fs.String("config", "", "Path to YAML config (built-in defaults when empty)")
	manifest := fs.String("manifest", "", "Override the JSON manifest of labelled images")
	datasetRoot := fs.String("dataset-root", "", "Override the directory of <label>-<id>.png images")
	shard := fs.String("shard", "", "Override the tar shard of <key>.png/<key>.cls pairs")
	numWorkers := fs.Int("num-workers", 0, "Number of image decode workers")
	hidden := fs.Int("hidden", 0, "Hidden layer width")
	lr := fs.Float64("lr", 0, "Learning rate")
	act := fs.String("activation", "", "Hidden activation (relu, logistic, sigmoid)")
	epochs := fs.Int("epochs", 0, "Target epoch count")
	seed := fs.Int64("seed", 0, "Weight initialization seed")
	out := fs.String("out", "", "Where the trained model is written")
	resume := fs.Bool("resume", false, "Continue training the model at -out if it exists")
	logEvery := fs.Int("log-every", 0, "Log every N epochs")
	quiet := fs.Bool("quiet", false, "Disable the progress bar")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return errors.WithMessage(err, "failed to load config")
	}
	cfg.ApplyOverrides(config.Overrides{
		Manifest:     *manifest,
		DatasetRoot:  *datasetRoot,
		Shard:        *shard,
		NumWorkers:   *numWorkers,
		HiddenSize:   *hidden,
		LearningRate: *lr,
		Activation:   *act,
		Epochs:       *epochs,
		Seed:         *seed,
		ModelPath:    *out,
		Resume:       *resume,
		LogEvery:     *logEvery,
	})
	if err := cfg.Validate(); err != nil {
		return errors.WithMessage(err, "invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCfg := trainer.RunConfig{
		Manifest:    cfg.Manifest,
		DatasetRoot: cfg.DatasetRoot,
		Shard:       cfg.Shard,
		BaseDir:     cfg.BaseDir,
		NumWorkers:  cfg.NumWorkers,
		Spec:        cfg.ImageSpec(),
		Model:       cfg.ModelConfig(),
		ModelPath:   cfg.ModelPath,
		Resume:      cfg.Resume,
		LogEvery:    cfg.LogEvery,
	}
	if !*quiet {
		runCfg.Progress = os.Stderr
	}
	_, err = trainer.Run(ctx, runCfg)
	return err
}

func runPredict(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("predict", flag.ExitOnError)
	klog.InitFlags(fs)
	modelPath := fs.String("model", "model.json", "Path to a model written by train")
	width := fs.Int("width", dataset.DefaultImageSpec.Width, "Image width in pixels")
	height := fs.Int("height", dataset.DefaultImageSpec.Height, "Image height in pixels")
	probs := fs.Bool("probs", false, "Print the full probability vector")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("no images given")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results, err := trainer.Predict(ctx, trainer.PredictConfig{
		ModelPath: *modelPath,
		Paths:     fs.Args(),
		Spec:      dataset.ImageSpec{Width: *width, Height: *height},
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, renderResults(results, *probs))
	return nil
}

func renderResults(results []trainer.Result, showProbs bool) string {
	headers := []string{"IMAGE", "CLASS", "CONFIDENCE"}
	if showProbs {
		headers = append(headers, "PROBABILITIES")
	}
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		row := []string{r.Path, fmt.Sprint(r.Class), fmt.Sprintf("%.3f", r.Confidence)}
		if showProbs {
			parts := make([]string, len(r.Probabilities))
			for i, p := range r.Probabilities {
				parts[i] = fmt.Sprintf("%.3f", p)
			}
			row = append(row, strings.Join(parts, " "))
		}
		rows = append(rows, row)
	}

	header := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		})
	return t.Render()
}

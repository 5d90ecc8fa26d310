package trainer

import (
	"context"
	"io"
	"math/rand"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"digitnet/internal/dataset"
	"digitnet/internal/metrics"
	"digitnet/internal/model"
)

// RunConfig captures the knobs required by the training loop. Exactly one of
// Manifest, DatasetRoot and Shard selects the corpus.
type RunConfig struct {
	Manifest    string
	DatasetRoot string
	Shard       string
	BaseDir     string
	NumWorkers  int

	Spec  dataset.ImageSpec
	Model model.Config

	ModelPath string
	Resume    bool
	LogEvery  int

	// Progress receives the epoch progress bar; nil disables it.
	Progress io.Writer
}

// Run loads the corpus, trains until the configured epoch count and saves the
// model. The context is checked between epochs; on cancellation the model is
// saved as it stands so a later run can resume it.
func Run(ctx context.Context, cfg RunConfig) (*model.MLP, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("trainer: model path must be set")
	}
	if cfg.Spec.Size() != cfg.Model.InputSize {
		return nil, errors.Errorf("trainer: %dx%d images do not fit input size %d",
			cfg.Spec.Width, cfg.Spec.Height, cfg.Model.InputSize)
	}
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = 1
	}

	entries, err := resolveEntries(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errors.New("trainer: no training images found")
	}
	corpus, err := dataset.LoadCorpus(ctx, entries, dataset.LoadOptions{
		Spec:       cfg.Spec,
		Classes:    cfg.Model.OutputSize,
		NumWorkers: cfg.NumWorkers,
	})
	if err != nil {
		return nil, err
	}
	klog.Infof("corpus images=%s", humanize.Comma(int64(corpus.Len())))

	mdl, err := buildModel(cfg)
	if err != nil {
		return nil, err
	}
	mc := mdl.Config()
	klog.Infof("model params=%s activation=%s lr=%g epochs=%d/%d",
		humanize.Comma(int64(mdl.NumParameters())), mc.Activation, mc.LearningRate, mdl.CompletedEpochs(), mc.Epochs)

	bar := newProgressBar(cfg.Progress, mc.Epochs-mdl.CompletedEpochs())
	var window metrics.Window
	for mdl.CompletedEpochs() < mc.Epochs {
		if err := ctx.Err(); err != nil {
			if saveErr := save(mdl, cfg.ModelPath); saveErr != nil {
				return nil, saveErr
			}
			return mdl, errors.Wrapf(err, "training stopped after epoch %d", mdl.CompletedEpochs())
		}

		start := time.Now()
		res, err := mdl.TrainOneEpoch(corpus)
		if err != nil {
			return nil, err
		}
		window.Record(res.Samples, res.Correct, res.MeanLoss, time.Since(start))
		if err := bar.Add(1); err != nil {
			klog.V(2).Infof("progress bar: %v", err)
		}

		if res.Epoch%cfg.LogEvery == 0 || res.Epoch == mc.Epochs {
			snap := window.Snapshot()
			klog.Infof("epoch=%d images_per_sec=%.1f epoch_ms=%.2f loss=%.4f accuracy=%.3f",
				res.Epoch,
				snap.ImagesPerSec,
				snap.AvgEpochMS,
				snap.MeanLoss,
				snap.Accuracy,
			)
		}
	}
	if err := bar.Finish(); err != nil {
		klog.V(2).Infof("progress bar: %v", err)
	}

	if err := save(mdl, cfg.ModelPath); err != nil {
		return nil, err
	}
	return mdl, nil
}

func resolveEntries(ctx context.Context, cfg RunConfig) ([]dataset.Entry, error) {
	switch {
	case cfg.Manifest != "":
		return dataset.LoadManifest(cfg.Manifest, cfg.BaseDir)
	case cfg.DatasetRoot != "":
		return dataset.DiscoverImages(cfg.DatasetRoot)
	case cfg.Shard != "":
		return dataset.ReadShard(ctx, cfg.Shard)
	}
	return nil, errors.New("trainer: no dataset source configured")
}

// buildModel resumes from ModelPath when asked and the file exists, otherwise
// initializes a fresh model from the configured seed.
func buildModel(cfg RunConfig) (*model.MLP, error) {
	if cfg.Resume {
		mdl, err := model.Load(cfg.ModelPath)
		switch {
		case err == nil:
			return resume(mdl, cfg)
		case errors.Is(err, os.ErrNotExist):
			klog.Infof("resume requested but %s does not exist; starting fresh", cfg.ModelPath)
		default:
			return nil, err
		}
	}
	mdl, err := model.New(cfg.Model)
	if err != nil {
		return nil, err
	}
	mdl.Init(rand.New(rand.NewSource(cfg.Model.Seed)))
	return mdl, nil
}

func resume(mdl *model.MLP, cfg RunConfig) (*model.MLP, error) {
	mc := mdl.Config()
	if mc.InputSize != cfg.Model.InputSize || mc.OutputSize != cfg.Model.OutputSize {
		return nil, errors.Wrapf(model.ErrConfiguration, "saved model is %dx%dx%d, corpus needs %d inputs and %d classes",
			mc.InputSize, mc.HiddenSize, mc.OutputSize, cfg.Model.InputSize, cfg.Model.OutputSize)
	}
	if err := mdl.SetTargetEpochs(cfg.Model.Epochs); err != nil {
		return nil, err
	}
	klog.Infof("resumed model=%s completed_epochs=%d", cfg.ModelPath, mdl.CompletedEpochs())
	return mdl, nil
}

func save(mdl *model.MLP, path string) error {
	if err := model.Save(mdl, path); err != nil {
		return err
	}
	var size uint64
	if info, err := os.Stat(path); err == nil {
		size = uint64(info.Size())
	}
	klog.Infof("saved model=%s size=%s completed_epochs=%d", path, humanize.Bytes(size), mdl.CompletedEpochs())
	return nil
}

func newProgressBar(w io.Writer, epochs int) *progressbar.ProgressBar {
	if w == nil {
		return progressbar.DefaultSilent(int64(epochs))
	}
	return progressbar.NewOptions(epochs,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("training"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("epochs"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: ".",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

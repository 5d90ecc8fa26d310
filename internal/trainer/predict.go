package trainer

import (
	"context"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"digitnet/internal/dataset"
	"digitnet/internal/model"
)

// PredictConfig selects a saved model and the images to classify.
type PredictConfig struct {
	ModelPath string
	Paths     []string
	Spec      dataset.ImageSpec
}

// Result is the classification of one image.
type Result struct {
	Path          string
	Class         int
	Confidence    float64
	Probabilities []float64
}

// Predict loads the model once and classifies each path in order. The first
// unreadable image aborts the run.
func Predict(ctx context.Context, cfg PredictConfig) ([]Result, error) {
	mdl, err := model.Load(cfg.ModelPath)
	if err != nil {
		return nil, err
	}
	if got, want := cfg.Spec.Size(), mdl.Config().InputSize; got != want {
		return nil, errors.Wrapf(model.ErrDimensionMismatch, "%dx%d images give %d inputs, model expects %d",
			cfg.Spec.Width, cfg.Spec.Height, got, want)
	}

	return classify(ctx, mdl, cfg.Paths, cfg.Spec)
}

func classify(ctx context.Context, clf model.Classifier, paths []string, spec dataset.ImageSpec) ([]Result, error) {
	results := make([]Result, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		x, err := dataset.LoadImageVector(path, spec)
		if err != nil {
			return nil, err
		}
		p, err := clf.Predict(x)
		if err != nil {
			return nil, errors.WithMessage(err, path)
		}
		klog.V(2).Infof("predict path=%s class=%d", path, p.Class)
		results = append(results, Result{
			Path:          path,
			Class:         p.Class,
			Confidence:    p.Probabilities[p.Class],
			Probabilities: p.Probabilities,
		})
	}
	return results, nil
}

package dataset

import (
	"bytes"
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"digitnet/internal/model"
)

// LoadOptions configures LoadCorpus.
type LoadOptions struct {
	Spec       ImageSpec
	Classes    int
	NumWorkers int
}

// LoadCorpus turns entries into a training corpus. Every label is checked
// before any image is read. Images are decoded by up to NumWorkers goroutines
// but land at their entry's index, so corpus order always equals entry order.
func LoadCorpus(ctx context.Context, entries []Entry, opts LoadOptions) (model.Corpus, error) {
	if opts.Classes <= 0 {
		return model.Corpus{}, errors.Errorf("dataset: classes must be > 0 (got %d)", opts.Classes)
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}

	corpus := model.Corpus{
		Images: make([][]float64, len(entries)),
		Labels: make([][]float64, len(entries)),
	}
	for i, e := range entries {
		label, err := OneHot(e.Label, opts.Classes)
		if err != nil {
			return model.Corpus{}, errors.WithMessagef(err, "entry %d (%s)", i, e.ImagePath)
		}
		corpus.Labels[i] = label
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.NumWorkers)
	for i, e := range entries {
		i, e := i, e
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var (
				v   []float64
				err error
			)
			if e.Image != nil {
				v, err = DecodeImageVector(bytes.NewReader(e.Image), opts.Spec)
			} else {
				v, err = LoadImageVector(e.ImagePath, opts.Spec)
			}
			if err != nil {
				return errors.WithMessagef(err, "entry %d (%s)", i, e.ImagePath)
			}
			corpus.Images[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return model.Corpus{}, err
	}
	if err := ctx.Err(); err != nil {
		return model.Corpus{}, err
	}
	klog.V(1).Infof("corpus loaded images=%d workers=%d", len(entries), opts.NumWorkers)
	return corpus, nil
}

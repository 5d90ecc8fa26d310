package dataset

import (
	"image"
	"io"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// ImageSpec is the raster size every input image must have.
type ImageSpec struct {
	Width  int
	Height int
}

// DefaultImageSpec is 16 pixels wide and 24 high.
var DefaultImageSpec = ImageSpec{Width: 16, Height: 24}

// Size is the length of a flattened image vector.
func (s ImageSpec) Size() int {
	return s.Width * s.Height
}

// LoadImageVector reads the image at path and flattens it row by row into
// values in [0,1].
func LoadImageVector(path string, spec ImageSpec) ([]float64, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, errors.Wrapf(ErrInputAsset, "%s: %v", path, err)
	}
	v, err := flatten(imaging.Clone(img), spec)
	if err != nil {
		return nil, errors.WithMessage(err, path)
	}
	return v, nil
}

// DecodeImageVector is LoadImageVector for an encoded image held in memory.
func DecodeImageVector(r io.Reader, spec ImageSpec) ([]float64, error) {
	img, err := imaging.Decode(r)
	if err != nil {
		return nil, errors.Wrapf(ErrInputAsset, "decode: %v", err)
	}
	return flatten(imaging.Clone(img), spec)
}

// flatten keeps the blue channel of the non-premultiplied colour, which is
// the grey level for greyscale digits.
func flatten(img *image.NRGBA, spec ImageSpec) ([]float64, error) {
	b := img.Bounds()
	if b.Dx() != spec.Width || b.Dy() != spec.Height {
		return nil, errors.Wrapf(ErrInputAsset, "image is %dx%d, want %dx%d", b.Dx(), b.Dy(), spec.Width, spec.Height)
	}
	out := make([]float64, spec.Size())
	for y := 0; y < spec.Height; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < spec.Width; x++ {
			out[y*spec.Width+x] = float64(row[x*4+2]) / 255.0
		}
	}
	return out, nil
}

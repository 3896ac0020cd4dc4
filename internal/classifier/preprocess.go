package classifier

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder

	_ "golang.org/x/image/bmp" // register BMP decoder
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register WebP decoder
)

// DefaultImageSize is used for dynamic spatial dimensions of the model input.
const DefaultImageSize = 224

// ImageNet channel statistics the model was trained with.
var (
	channelMean = [3]float32{0.485, 0.456, 0.406}
	channelStd  = [3]float32{0.229, 0.224, 0.225}
)

// Layout is the memory order of the input tensor.
type Layout int

const (
	LayoutNCHW Layout = iota // channels first
	LayoutNHWC               // channels last
)

func (l Layout) String() string {
	if l == LayoutNHWC {
		return "NHWC"
	}
	return "NCHW"
}

// InputSpec describes the image tensor a model expects.
type InputSpec struct {
	Width  int
	Height int
	Layout Layout
}

// Size returns the number of float32 values in one input.
func (s InputSpec) Size() int {
	return s.Width * s.Height * 3
}

// InputSpecFromShape derives the spec from a rank 4 model input shape.
// The layout is whichever of dimension 1 or 3 holds the 3 colour channels.
func InputSpecFromShape(shape []int) (InputSpec, error) {
	if len(shape) != 4 {
		return InputSpec{}, fmt.Errorf("expected rank 4 image input, got shape %v", shape)
	}
	dim := func(d int) int {
		if d <= 0 {
			return DefaultImageSize
		}
		return d
	}
	switch {
	case shape[1] == 3:
		return InputSpec{Height: dim(shape[2]), Width: dim(shape[3]), Layout: LayoutNCHW}, nil
	case shape[3] == 3:
		return InputSpec{Height: dim(shape[1]), Width: dim(shape[2]), Layout: LayoutNHWC}, nil
	default:
		return InputSpec{}, fmt.Errorf("cannot find a 3 channel dimension in input shape %v", shape)
	}
}

// Preprocess decodes an image and converts it into a normalized input tensor:
// RGB with alpha dropped, bilinear resize to the InputSpec size, scale to [0,1],
// then per-channel (x - mean) / std.
func Preprocess(data []byte, spec InputSpec) ([]float32, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if src.Bounds().Empty() {
		return nil, fmt.Errorf("%w: image has no pixels", ErrDecode)
	}

	dst := image.NewNRGBA(image.Rect(0, 0, spec.Width, spec.Height))
	draw.BiLinear.Scale(dst, dst.Bounds(), opaque(src), src.Bounds(), draw.Src, nil)

	out := make([]float32, spec.Size())
	plane := spec.Width * spec.Height
	for y := range spec.Height {
		row := dst.Pix[y*dst.Stride:]
		for x := range spec.Width {
			px := row[x*4 : x*4+3]
			for c := range 3 {
				v := (float32(px[c])/255 - channelMean[c]) / channelStd[c]
				if spec.Layout == LayoutNHWC {
					out[(y*spec.Width+x)*3+c] = v
				} else {
					out[c*plane+y*spec.Width+x] = v
				}
			}
		}
	}
	return out, nil
}

// opaque returns src with every pixel's alpha forced to fully opaque while
// keeping the stored colour, which is how an RGB conversion discards alpha.
func opaque(src image.Image) *image.NRGBA {
	b := src.Bounds()
	var n *image.NRGBA
	if in, ok := src.(*image.NRGBA); ok {
		n = &image.NRGBA{
			Pix:    bytes.Clone(in.Pix),
			Stride: in.Stride,
			Rect:   in.Rect,
		}
	} else {
		n = image.NewNRGBA(b)
		draw.Draw(n, b, src, b.Min, draw.Src)
	}
	for i := 3; i < len(n.Pix); i += 4 {
		n.Pix[i] = 0xff
	}
	return n
}

package content

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoding
	_ "image/jpeg" // register JPEG decoding
	_ "image/png"  // register PNG decoding
	"io"
	"os"
	"path/filepath"

	"github.com/gogpu/gputypes"
	_ "golang.org/x/image/bmp" // register BMP decoding
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff" // register TIFF decoding
	_ "golang.org/x/image/webp" // register WebP decoding
	"golang.org/x/sync/semaphore"

	"github.com/gogpu/cauldron/gpu"
)

// TextureOption configures a TextureLoader.
type TextureOption func(*textureOptions)

type textureOptions struct {
	mips    bool
	uploads int64
}

// WithMips enables or disables mip chain generation. Enabled by default.
func WithMips(on bool) TextureOption {
	return func(o *textureOptions) { o.mips = on }
}

// WithUploadConcurrency bounds concurrent texture uploads. Decoding is not
// bounded.
func WithUploadConcurrency(n int64) TextureOption {
	return func(o *textureOptions) {
		if n > 0 {
			o.uploads = n
		}
	}
}

// TextureLoader decodes images into sampled RGBA8 textures.
//
// TextureLoader is safe for concurrent use.
type TextureLoader struct {
	dev     *gpu.Device
	mips    bool
	uploads *semaphore.Weighted
}

// NewTextureLoader creates a loader that uploads to dev.
func NewTextureLoader(dev *gpu.Device, opts ...TextureOption) *TextureLoader {
	o := textureOptions{mips: true, uploads: 1}
	for _, opt := range opts {
		opt(&o)
	}
	return &TextureLoader{dev: dev, mips: o.mips, uploads: semaphore.NewWeighted(o.uploads)}
}

// Decode reads any registered image format and converts it to RGBA.
func Decode(r io.Reader) (*image.RGBA, string, error) {
	src, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("content: decode image: %w", err)
	}
	if rgba, ok := src.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba, format, nil
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst, format, nil
}

// MipChain returns img followed by successively halved levels down to 1x1.
func MipChain(img *image.RGBA) []*image.RGBA {
	chain := []*image.RGBA{img}
	w, h := img.Rect.Dx(), img.Rect.Dy()
	for w > 1 || h > 1 {
		w, h = max(w/2, 1), max(h/2, 1)
		prev := chain[len(chain)-1]
		next := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.ApproxBiLinear.Scale(next, next.Rect, prev, prev.Rect, draw.Src, nil)
		chain = append(chain, next)
	}
	return chain
}

// Load decodes r and uploads it as a texture named label. The texture is
// left in ShaderResource state.
func (l *TextureLoader) Load(ctx context.Context, label string, r io.Reader) (*gpu.Texture, error) {
	img, format, err := Decode(r)
	if err != nil {
		return nil, fmt.Errorf("content: texture %q: %w", label, err)
	}
	levels := []*image.RGBA{img}
	if l.mips {
		levels = MipChain(img)
	}

	if err := l.uploads.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("content: texture %q: %w", label, err)
	}
	defer l.uploads.Release(1)

	//nolint:gosec // decoded image sizes fit in uint32
	tex, err := l.dev.CreateTexture(gpu.TextureDesc{
		Label:        label,
		Width:        uint32(img.Rect.Dx()),
		Height:       uint32(img.Rect.Dy()),
		MipLevels:    uint32(len(levels)),
		Format:       gputypes.TextureFormatRGBA8Unorm,
		Usage:        gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
		InitialState: gpu.StateShaderResource,
	})
	if err != nil {
		return nil, fmt.Errorf("content: texture %q: %w", label, err)
	}
	for mip, lvl := range levels {
		//nolint:gosec // mip sizes fit in uint32
		err := tex.WriteMip(uint32(mip), uint32(lvl.Rect.Dx()), uint32(lvl.Rect.Dy()), uint32(lvl.Stride), lvl.Pix)
		if err != nil {
			tex.Destroy()
			return nil, fmt.Errorf("content: texture %q: %w", label, err)
		}
	}
	slogger().Debug("content: texture loaded", "label", label, "format", format,
		"width", img.Rect.Dx(), "height", img.Rect.Dy(), "mips", len(levels))
	return tex, nil
}

// LoadFile loads the image at path. The label is the file's base name.
func (l *TextureLoader) LoadFile(ctx context.Context, path string) (*gpu.Texture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("content: %w", err)
	}
	defer f.Close()
	return l.Load(ctx, filepath.Base(path), f)
}

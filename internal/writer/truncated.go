package writer

import (
	"github.com/pspoerri/dicomizer/internal/dzerr"
	"github.com/pspoerri/dicomizer/internal/pixel"
)

// TruncatedWriter splits one reconstruction into two passes (spec.md §4.4.3):
// writes to levels below the split level pass through to an inner writer;
// the write at the split level is redirected into an in-memory tiled image
// that becomes the input for a second, coarser reconstruction pass; writes
// above the split level are rejected.
type TruncatedWriter struct {
	inner      Writer
	splitLevel int
	memImage   *MemoryTiledImage
}

// NewTruncatedWriter wraps inner, redirecting writes at splitLevel into
// memImage (which must already be sized for that level's tile grid).
func NewTruncatedWriter(inner Writer, splitLevel int, memImage *MemoryTiledImage) *TruncatedWriter {
	return &TruncatedWriter{inner: inner, splitLevel: splitLevel, memImage: memImage}
}

func (w *TruncatedWriter) LevelCount() int      { return w.splitLevel + 1 }
func (w *TruncatedWriter) TileWidth() int       { return w.inner.TileWidth() }
func (w *TruncatedWriter) TileHeight() int      { return w.inner.TileHeight() }
func (w *TruncatedWriter) PixelFormat() pixel.Format { return w.inner.PixelFormat() }

func (w *TruncatedWriter) CountTilesX(level int) int {
	if level == w.splitLevel {
		return w.memImage.TilesX()
	}
	return w.inner.CountTilesX(level)
}

func (w *TruncatedWriter) CountTilesY(level int) int {
	if level == w.splitLevel {
		return w.memImage.TilesY()
	}
	return w.inner.CountTilesY(level)
}

// AddLevel forwards to the inner writer for levels below the split; the
// split level itself is pre-sized by the in-memory image at construction.
func (w *TruncatedWriter) AddLevel(width, height int) error {
	return w.inner.AddLevel(width, height)
}

func (w *TruncatedWriter) checkLevel(level int) error {
	if level > w.splitLevel {
		return dzerr.New(dzerr.KindBadSequenceOfCalls, "writer", "level %d is above the truncation split level %d", level, w.splitLevel)
	}
	return nil
}

func (w *TruncatedWriter) WriteRawTile(data []byte, compression pixel.Compression, level, x, y int) error {
	if err := w.checkLevel(level); err != nil {
		return err
	}
	if level == w.splitLevel {
		img, err := pixel.DecodeTile(data, compression, w.PixelFormat(), w.TileWidth(), w.TileHeight(), 0)
		if err != nil {
			return err
		}
		w.memImage.Put(x, y, img)
		return nil
	}
	return w.inner.WriteRawTile(data, compression, level, x, y)
}

func (w *TruncatedWriter) EncodeTile(img *pixel.Image, level, x, y int) error {
	if err := w.checkLevel(level); err != nil {
		return err
	}
	if level == w.splitLevel {
		w.memImage.Put(x, y, img)
		return nil
	}
	return w.inner.EncodeTile(img, level, x, y)
}

// Flush flushes the inner writer; the split-level in-memory image is
// consumed directly by the second reconstruction pass, not serialized here.
func (w *TruncatedWriter) Flush() error {
	return w.inner.Flush()
}

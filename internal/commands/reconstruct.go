package commands

import (
	"github.com/pspoerri/dicomizer/internal/pixel"
	"github.com/pspoerri/dicomizer/internal/resample"
	"github.com/pspoerri/dicomizer/internal/task"
	"github.com/pspoerri/dicomizer/internal/writer"
)

// ReconstructCommand builds one subtree of a coarser pyramid bottom-up from
// a base-level resampling reader: a 2x2 mosaic of the level below, optional
// 5x5 smoothing, then a 2x box downsample, recursively up to UpToLevel
// (spec.md §4.6 "Reconstruct command").
//
// BaseX, BaseY are base-level (level 0) tile coordinates, aligned to
// 2^UpToLevel; ShiftTargetLevel offsets every level this command writes to,
// letting the truncated-pyramid two-pass split (spec.md §4.4.3) number its
// upper pass starting above the split level instead of at 0.
type ReconstructCommand struct {
	Reader           *resample.Reader
	Writer           writer.Writer
	UpToLevel        int
	ShiftTargetLevel int
	BaseX, BaseY     int
	Smooth           bool

	tilesX0, tilesY0 int
	err              error
}

// Execute implements task.Command.
func (c *ReconstructCommand) Execute() bool {
	tw, th := c.Reader.TileWidth(), c.Reader.TileHeight()
	c.tilesX0 = ceilDiv(c.Reader.LevelWidth(), tw)
	c.tilesY0 = ceilDiv(c.Reader.LevelHeight(), th)
	_, _, _ = c.explore(c.UpToLevel, 0, 0)
	return c.err == nil
}

// Err returns the error that caused Execute to fail, or nil.
func (c *ReconstructCommand) Err() error { return c.err }

func ceilDiv(a, b int) int {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// explore implements the Explore(level, offsetX, offsetY) recursion
// (spec.md §4.6). offsetX/offsetY are relative to this command's own base,
// doubling on each descent; exists=false means the node's subtree lies
// entirely outside the base reader's level-0 tile grid.
func (c *ReconstructCommand) explore(level, offsetX, offsetY int) (img *pixel.Image, isEmpty bool, exists bool) {
	if c.err != nil {
		return nil, false, false
	}
	zoom := 1 << uint(level)
	tx := c.BaseX + offsetX*zoom
	ty := c.BaseY + offsetY*zoom
	if tx >= c.tilesX0 || ty >= c.tilesY0 {
		return nil, false, false
	}
	absX := (c.BaseX >> uint(level)) + offsetX
	absY := (c.BaseY >> uint(level)) + offsetY

	if level == 0 {
		decoded, empty, err := c.Reader.DecodedTile(tx, ty)
		if err != nil {
			c.err = err
			return nil, false, false
		}
		if (tx == 0 && ty == 0) || !empty || level == c.UpToLevel {
			if err := c.emitBase(tx, ty, absX, absY, decoded); err != nil {
				c.err = err
				return nil, false, false
			}
		}
		return decoded, empty, true
	}

	tw, th := c.Reader.TileWidth(), c.Reader.TileHeight()
	mosaic, err := pixel.Allocate(c.Reader.PixelFormat(), tw*2, th*2)
	if err != nil {
		c.err = err
		return nil, false, false
	}
	bg := c.Reader.BackgroundColor()
	pixel.Set(mosaic, bg[0], bg[1], bg[2])

	isEmptyAgg := true
	for dy := 0; dy <= 1; dy++ {
		for dx := 0; dx <= 1; dx++ {
			sub, subEmpty, subExists := c.explore(level-1, 2*offsetX+dx, 2*offsetY+dy)
			if c.err != nil {
				return nil, false, false
			}
			if !subExists {
				continue
			}
			pixel.Embed(mosaic, sub, dx*tw, dy*th)
			if !subEmpty {
				isEmptyAgg = false
			}
		}
	}

	if c.Smooth {
		mosaic = pixel.Smooth5x5(mosaic)
	}
	halved := pixel.Downsample2x(mosaic)

	if (tx == 0 && ty == 0) || !isEmptyAgg || level == c.UpToLevel {
		if err := c.Writer.EncodeTile(halved, c.ShiftTargetLevel+level, absX, absY); err != nil {
			c.err = err
			return nil, false, false
		}
	}
	return halved, isEmptyAgg, true
}

func (c *ReconstructCommand) emitBase(tx, ty, absX, absY int, decoded *pixel.Image) error {
	data, compression, _, _, err := c.Reader.Tile(tx, ty)
	if err != nil {
		return err
	}
	if data != nil {
		return c.Writer.WriteRawTile(data, compression, c.ShiftTargetLevel+0, absX, absY)
	}
	return c.Writer.EncodeTile(decoded, c.ShiftTargetLevel+0, absX, absY)
}

// PrepareReconstructTasks steps over the writer's tile grid at
// shiftTargetLevel+upToLevel, one command per tile — each command's base
// coordinates cover the 2^upToLevel x 2^upToLevel block of base-level tiles
// that tile aggregates (spec.md §4.6 prepare-tasks generator).
func PrepareReconstructTasks(reader *resample.Reader, w writer.Writer, upToLevel, shiftTargetLevel int, smooth bool) []task.Command {
	step := 1 << uint(upToLevel)
	totalX := w.CountTilesX(shiftTargetLevel + upToLevel)
	totalY := w.CountTilesY(shiftTargetLevel + upToLevel)

	var cmds []task.Command
	for ty := 0; ty < totalY; ty++ {
		for tx := 0; tx < totalX; tx++ {
			cmds = append(cmds, &ReconstructCommand{
				Reader:           reader,
				Writer:           w,
				UpToLevel:        upToLevel,
				ShiftTargetLevel: shiftTargetLevel,
				BaseX:            tx * step,
				BaseY:            ty * step,
				Smooth:           smooth,
			})
		}
	}
	return cmds
}

// ChooseLowerLevelCount implements the automatic lower-level-count
// heuristic (spec.md §4.6): starting from zoom=1 (one level), double the
// zoom factor while the resulting level count fits the writer, the
// full-resolution tiles processed per task stays above 4x the thread count
// (preserving parallelism), and the per-command working region (zoom tiles
// square) stays within 4096x4096 pixels. The last accepted level count
// minus 1 is the lower-level count (the "U" passed to ReconstructCommand).
func ChooseLowerLevelCount(threads, writerLevelCount, tileWidth, tileHeight int) int {
	if threads < 1 {
		threads = 1
	}
	zoom := 1
	levels := 1
	for {
		nextZoom := zoom * 2
		nextLevels := levels + 1
		tilesPerTask := nextZoom * nextZoom
		bufW := nextZoom * tileWidth
		bufH := nextZoom * tileHeight
		if nextLevels > writerLevelCount || tilesPerTask < 4*threads || bufW > 4096 || bufH > 4096 {
			break
		}
		zoom = nextZoom
		levels = nextLevels
	}
	return levels - 1
}

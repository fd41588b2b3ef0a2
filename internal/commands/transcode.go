// Package commands implements the transcode and reconstruct task.Commands
// (spec.md §4.6): the two ways a pyramid level gets populated in an output
// writer, plus their prepare-tasks generators and the automatic
// lower-level-count heuristic.
package commands

import (
	"github.com/pspoerri/dicomizer/internal/resample"
	"github.com/pspoerri/dicomizer/internal/task"
	"github.com/pspoerri/dicomizer/internal/writer"
)

// TranscodeCommand copies one rectangle of target tiles from a resampling
// reader into a writer, passing raw bytes through untouched whenever
// available and decoding+encoding only when necessary (spec.md §4.6).
type TranscodeCommand struct {
	Reader *resample.Reader
	Writer writer.Writer
	Level  int
	// StartX, StartY, CountX, CountY describe the rectangle of target tiles
	// this command covers.
	StartX, StartY int
	CountX, CountY int

	err error
}

// Execute implements task.Command.
func (c *TranscodeCommand) Execute() bool {
	for dy := 0; dy < c.CountY; dy++ {
		for dx := 0; dx < c.CountX; dx++ {
			tx, ty := c.StartX+dx, c.StartY+dy
			data, compression, img, isEmpty, err := c.Reader.Tile(tx, ty)
			if err != nil {
				c.err = err
				return false
			}
			if data != nil {
				if err := c.Writer.WriteRawTile(data, compression, c.Level, tx, ty); err != nil {
					c.err = err
					return false
				}
				continue
			}
			if isEmpty {
				continue
			}
			if err := c.Writer.EncodeTile(img, c.Level, tx, ty); err != nil {
				c.err = err
				return false
			}
		}
	}
	return true
}

// Err returns the error that caused Execute to fail, or nil.
func (c *TranscodeCommand) Err() error { return c.err }

// PrepareTranscodeTasks tiles the writer's (level) tile grid into
// blockTilesX x blockTilesY rectangles, one TranscodeCommand per rectangle
// (spec.md §4.6: "one command per source-tile rectangle per level").
func PrepareTranscodeTasks(reader *resample.Reader, w writer.Writer, level, blockTilesX, blockTilesY int) []task.Command {
	if blockTilesX < 1 {
		blockTilesX = 1
	}
	if blockTilesY < 1 {
		blockTilesY = 1
	}
	totalX := w.CountTilesX(level)
	totalY := w.CountTilesY(level)

	var cmds []task.Command
	for y := 0; y < totalY; y += blockTilesY {
		cy := blockTilesY
		if y+cy > totalY {
			cy = totalY - y
		}
		for x := 0; x < totalX; x += blockTilesX {
			cx := blockTilesX
			if x+cx > totalX {
				cx = totalX - x
			}
			cmds = append(cmds, &TranscodeCommand{
				Reader: reader, Writer: w, Level: level,
				StartX: x, StartY: y, CountX: cx, CountY: cy,
			})
		}
	}
	return cmds
}

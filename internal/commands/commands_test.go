package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pspoerri/dicomizer/internal/dzerr"
	"github.com/pspoerri/dicomizer/internal/pixel"
	"github.com/pspoerri/dicomizer/internal/resample"
)

// fakeSource is a single-level uniformly-tiled in-memory source, reused
// from the pattern internal/resample's tests establish.
type fakeSource struct {
	levelWidth, levelHeight int
	tileWidth, tileHeight   int
	sparse                  map[[2]int]bool
}

func (s *fakeSource) LevelWidth(int) int                            { return s.levelWidth }
func (s *fakeSource) LevelHeight(int) int                           { return s.levelHeight }
func (s *fakeSource) TileWidth(int) int                             { return s.tileWidth }
func (s *fakeSource) TileHeight(int) int                            { return s.tileHeight }
func (s *fakeSource) PixelFormat() pixel.Format                     { return pixel.FormatRGB24 }
func (s *fakeSource) PhotometricInterpretation() pixel.Photometric  { return pixel.PhotometricRGB }

func (s *fakeSource) ReadRawTile(level, x, y int) ([]byte, pixel.Compression, bool, error) {
	if s.sparse[[2]int{x, y}] {
		return nil, 0, false, nil
	}
	img, _ := pixel.Allocate(pixel.FormatRGB24, s.tileWidth, s.tileHeight)
	pixel.Set(img, uint8(x*20+1), uint8(y*20+1), 0)
	return img.Pix, pixel.CompressionNone, true, nil
}

func (s *fakeSource) DecodeTile(level, x, y int) (*pixel.Image, bool, error) {
	if s.sparse[[2]int{x, y}] {
		img, _ := pixel.Allocate(pixel.FormatRGB24, s.tileWidth, s.tileHeight)
		return img, true, nil
	}
	data, _, _, _ := s.ReadRawTile(level, x, y)
	img, err := pixel.DecodeRawTile(data, pixel.FormatRGB24, s.tileWidth, s.tileHeight)
	return img, false, err
}

// fakeWriter records every tile handed to it, keyed by (level, x, y).
type fakeWriter struct {
	levels     []struct{ w, h int }
	tileW      int
	tileH      int
	raw        map[[3]int]pixel.Compression
	decoded    map[[3]int]*pixel.Image
	failAt     [3]int
	shouldFail bool
}

func newFakeWriter(tileW, tileH int) *fakeWriter {
	return &fakeWriter{
		tileW: tileW, tileH: tileH,
		raw:     make(map[[3]int]pixel.Compression),
		decoded: make(map[[3]int]*pixel.Image),
	}
}

func (w *fakeWriter) LevelCount() int { return len(w.levels) }
func (w *fakeWriter) TileWidth() int  { return w.tileW }
func (w *fakeWriter) TileHeight() int { return w.tileH }
func (w *fakeWriter) CountTilesX(level int) int {
	return (w.levels[level].w + w.tileW - 1) / w.tileW
}
func (w *fakeWriter) CountTilesY(level int) int {
	return (w.levels[level].h + w.tileH - 1) / w.tileH
}
func (w *fakeWriter) PixelFormat() pixel.Format { return pixel.FormatRGB24 }

func (w *fakeWriter) AddLevel(width, height int) error {
	w.levels = append(w.levels, struct{ w, h int }{width, height})
	return nil
}

func (w *fakeWriter) WriteRawTile(data []byte, compression pixel.Compression, level, x, y int) error {
	key := [3]int{level, x, y}
	if w.shouldFail && key == w.failAt {
		return dzerr.New(dzerr.KindInternal, "test", "forced failure")
	}
	w.raw[key] = compression
	return nil
}

func (w *fakeWriter) EncodeTile(img *pixel.Image, level, x, y int) error {
	key := [3]int{level, x, y}
	if w.shouldFail && key == w.failAt {
		return dzerr.New(dzerr.KindInternal, "test", "forced failure")
	}
	w.decoded[key] = img
	return nil
}

func (w *fakeWriter) Flush() error { return nil }

func TestTranscodeCommandPassesThroughRawTiles(t *testing.T) {
	src := &fakeSource{levelWidth: 20, levelHeight: 10, tileWidth: 10, tileHeight: 10}
	reader, err := resample.NewReader(src, 0, 10, 10, resample.Settings{})
	require.NoError(t, err)

	w := newFakeWriter(10, 10)
	require.NoError(t, w.AddLevel(20, 10))

	cmd := &TranscodeCommand{Reader: reader, Writer: w, Level: 0, StartX: 0, StartY: 0, CountX: 2, CountY: 1}
	require.True(t, cmd.Execute())

	assert.Len(t, w.raw, 2)
	assert.Contains(t, w.raw, [3]int{0, 0, 0})
	assert.Contains(t, w.raw, [3]int{0, 1, 0})
}

func TestTranscodeCommandSkipsEmptyTiles(t *testing.T) {
	src := &fakeSource{
		levelWidth: 20, levelHeight: 10, tileWidth: 10, tileHeight: 10,
		sparse: map[[2]int]bool{{1, 0}: true},
	}
	reader, err := resample.NewReader(src, 0, 10, 10, resample.Settings{})
	require.NoError(t, err)

	w := newFakeWriter(10, 10)
	require.NoError(t, w.AddLevel(20, 10))

	cmd := &TranscodeCommand{Reader: reader, Writer: w, Level: 0, StartX: 0, StartY: 0, CountX: 2, CountY: 1}
	require.True(t, cmd.Execute())

	assert.Len(t, w.raw, 1)
	assert.NotContains(t, w.raw, [3]int{0, 1, 0})
	assert.NotContains(t, w.decoded, [3]int{0, 1, 0})
}

func TestTranscodeCommandStopsOnWriterError(t *testing.T) {
	src := &fakeSource{levelWidth: 20, levelHeight: 10, tileWidth: 10, tileHeight: 10}
	reader, err := resample.NewReader(src, 0, 10, 10, resample.Settings{})
	require.NoError(t, err)

	w := newFakeWriter(10, 10)
	require.NoError(t, w.AddLevel(20, 10))
	w.shouldFail = true
	w.failAt = [3]int{0, 1, 0}

	cmd := &TranscodeCommand{Reader: reader, Writer: w, Level: 0, StartX: 0, StartY: 0, CountX: 2, CountY: 1}
	assert.False(t, cmd.Execute())
	require.Error(t, cmd.Err())
}

func TestPrepareTranscodeTasksCoversWholeGridInBlocks(t *testing.T) {
	src := &fakeSource{levelWidth: 40, levelHeight: 20, tileWidth: 10, tileHeight: 10}
	reader, err := resample.NewReader(src, 0, 10, 10, resample.Settings{})
	require.NoError(t, err)

	w := newFakeWriter(10, 10)
	require.NoError(t, w.AddLevel(40, 20))

	cmds := PrepareTranscodeTasks(reader, w, 0, 2, 1)
	// 4 tiles across / block 2 = 2 columns of commands; 2 tiles down / block 1 = 2 rows.
	assert.Len(t, cmds, 4)
	for _, c := range cmds {
		require.True(t, c.Execute())
	}
	assert.Len(t, w.raw, 8)
}

func TestReconstructCommandAlwaysEmitsOriginTile(t *testing.T) {
	src := &fakeSource{
		levelWidth: 20, levelHeight: 20, tileWidth: 10, tileHeight: 10,
		sparse: map[[2]int]bool{{0, 0}: true, {1, 0}: true, {0, 1}: true, {1, 1}: true},
	}
	reader, err := resample.NewReader(src, 0, 10, 10, resample.Settings{})
	require.NoError(t, err)

	w := newFakeWriter(10, 10)
	require.NoError(t, w.AddLevel(20, 20))
	require.NoError(t, w.AddLevel(10, 10))

	cmd := &ReconstructCommand{Reader: reader, Writer: w, UpToLevel: 1, BaseX: 0, BaseY: 0}
	require.True(t, cmd.Execute())

	// Level 0 origin tile always emits even though it's empty.
	assert.Contains(t, w.decoded, [3]int{0, 0, 0})
	// Level 1 (reconstructed) tile also always emits at the origin.
	assert.Contains(t, w.decoded, [3]int{1, 0, 0})
}

func TestReconstructCommandEmitsNonEmptyInteriorTiles(t *testing.T) {
	src := &fakeSource{levelWidth: 20, levelHeight: 20, tileWidth: 10, tileHeight: 10}
	reader, err := resample.NewReader(src, 0, 10, 10, resample.Settings{})
	require.NoError(t, err)

	w := newFakeWriter(10, 10)
	require.NoError(t, w.AddLevel(20, 20))
	require.NoError(t, w.AddLevel(10, 10))

	cmd := &ReconstructCommand{Reader: reader, Writer: w, UpToLevel: 1, BaseX: 0, BaseY: 0}
	require.True(t, cmd.Execute())

	require.Contains(t, w.raw, [3]int{0, 0, 0})
	require.Contains(t, w.raw, [3]int{0, 1, 0})
	require.Contains(t, w.decoded, [3]int{1, 0, 0})
}

func TestReconstructCommandShiftsTargetLevel(t *testing.T) {
	src := &fakeSource{levelWidth: 20, levelHeight: 20, tileWidth: 10, tileHeight: 10}
	reader, err := resample.NewReader(src, 0, 10, 10, resample.Settings{})
	require.NoError(t, err)

	w := newFakeWriter(10, 10)
	require.NoError(t, w.AddLevel(20, 20))
	require.NoError(t, w.AddLevel(10, 10))

	cmd := &ReconstructCommand{Reader: reader, Writer: w, UpToLevel: 1, ShiftTargetLevel: 3, BaseX: 0, BaseY: 0}
	require.True(t, cmd.Execute())

	assert.Contains(t, w.raw, [3]int{3, 0, 0})
	assert.Contains(t, w.decoded, [3]int{4, 0, 0})
}

func TestPrepareReconstructTasksCoversWriterGrid(t *testing.T) {
	src := &fakeSource{levelWidth: 40, levelHeight: 40, tileWidth: 10, tileHeight: 10}
	reader, err := resample.NewReader(src, 0, 10, 10, resample.Settings{})
	require.NoError(t, err)

	w := newFakeWriter(10, 10)
	require.NoError(t, w.AddLevel(40, 40))
	require.NoError(t, w.AddLevel(20, 20))

	cmds := PrepareReconstructTasks(reader, w, 1, 0, false)
	assert.Len(t, cmds, 4)
	for _, c := range cmds {
		require.True(t, c.Execute())
	}
	assert.Len(t, w.decoded, 4)
}

func TestChooseLowerLevelCountRespectsWriterLevelLimit(t *testing.T) {
	got := ChooseLowerLevelCount(1, 2, 256, 256)
	assert.Equal(t, 1, got)
}

func TestChooseLowerLevelCountRespectsParallelismFloor(t *testing.T) {
	// With 64 threads, doubling past zoom=1 immediately drops below 4*64
	// full-resolution tiles per task for a tiny tile, so it stops at 0.
	got := ChooseLowerLevelCount(64, 10, 256, 256)
	assert.Equal(t, 0, got)
}

func TestChooseLowerLevelCountRespectsBufferCap(t *testing.T) {
	got := ChooseLowerLevelCount(1, 10, 2048, 2048)
	assert.Equal(t, 1, got)
}

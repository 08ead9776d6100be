package cmd

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/montanaflynn/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CraigKelly/ptgibbs/model"
	"github.com/CraigKelly/ptgibbs/output"
	"github.com/CraigKelly/ptgibbs/rand"
	"github.com/CraigKelly/ptgibbs/sampler"
	"github.com/CraigKelly/ptgibbs/skymap"
)

func noneChanged(string) bool { return false }

func TestMergeConfig(t *testing.T) {
	assert := assert.New(t)

	flags := defaultRunOptions()
	opts, cfg, err := mergeConfig(nil, flags, noneChanged)
	assert.NoError(err)
	assert.Equal(flags, opts)
	assert.Equal(sampler.DefaultConfig(), cfg)

	file := `
run:
  radius: 12
  nsamp: 7
  workers: 3
sampler:
  step_size: 0.5
  beam_fiducial: 2.0
`
	opts, cfg, err = mergeConfig(strings.NewReader(file), flags, noneChanged)
	assert.NoError(err)
	assert.Equal(12.0, opts.Radius)
	assert.Equal(7, opts.NSamp)
	assert.Equal(3, opts.Workers)
	assert.Equal(flags.BurnIn, opts.BurnIn)
	assert.Equal(0.5, cfg.StepSize)
	assert.Equal(2.0, cfg.BeamFiducial)
	assert.Equal(sampler.DefaultConfig().CGMaxIter, cfg.CGMaxIter)

	// Explicit flags beat the file
	flags.NSamp = 99
	opts, _, err = mergeConfig(strings.NewReader(file), flags, func(name string) bool {
		return name == "nsamp"
	})
	assert.NoError(err)
	assert.Equal(99, opts.NSamp)
	assert.Equal(12.0, opts.Radius)

	// Empty file is fine, unknown keys are not
	_, _, err = mergeConfig(strings.NewReader(""), flags, noneChanged)
	assert.NoError(err)
	_, _, err = mergeConfig(strings.NewReader("run:\n  radios: 3\n"), flags, noneChanged)
	assert.Error(err)

	_, _, err = loadConfig(filepath.Join(t.TempDir(), "missing.yaml"), flags, noneChanged)
	assert.Error(err)
}

func TestRunOptionsValidate(t *testing.T) {
	assert := assert.New(t)

	o := defaultRunOptions()
	assert.NoError(o.validate())

	bad := o
	bad.Radius = 0
	assert.Error(bad.validate())

	bad = o
	bad.NSamp = 0
	assert.Error(bad.validate())

	bad = o
	bad.Rank = 1
	assert.Error(bad.validate())

	bad = o
	bad.Workers = 0
	assert.Error(bad.validate())

	bad = o
	bad.Start = -1
	assert.Error(bad.validate())
}

func TestParseFloats(t *testing.T) {
	assert := assert.New(t)

	v, err := parseFloats("148, 220,90")
	assert.NoError(err)
	assert.Equal([]float64{148, 220, 90}, v)

	_, err = parseFloats("noise.fits")
	assert.Error(err)
	_, err = parseFloats("1,,2")
	assert.Error(err)
}

func TestColumnNames(t *testing.T) {
	assert := assert.New(t)

	assert.Equal([]string{"dec", "ra", "amp0", "fwhm_major", "fwhm_minor", "angle", "mJy0"}, columnNames(7))
	names := columnNames(9)
	assert.Equal("amp1", names[3])
	assert.Equal("angle", names[6])
	assert.Equal("mJy1", names[8])
	assert.Equal([]string{"col0", "col1", "col2"}, columnNames(3))
}

func TestSummary(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()

	fn := filepath.Join(dir, "samps000.txt")
	table := "1 2 10 1.5 1.5 0 3\n1 2 20 1.5 1.5 0 5\n1 2 30 1.5 1.5 0 7\n"
	require.NoError(t, os.WriteFile(fn, []byte(table), 0644))

	var buf bytes.Buffer
	assert.NoError(summarizeFile(&buf, fn, 0))
	out := buf.String()
	assert.Contains(out, "3 samples")
	assert.Regexp(`amp0\s+20\.00000 \+-\s+10\.00000\s+median\s+20\.00000`, out)

	buf.Reset()
	assert.NoError(summarizeFile(&buf, fn, 1))
	assert.Regexp(`amp0\s+25\.00000`, buf.String())

	buf.Reset()
	assert.NoError(summarizeFile(&buf, fn, 5))
	assert.Contains(buf.String(), "0 samples")

	ragged := filepath.Join(dir, "ragged.txt")
	require.NoError(t, os.WriteFile(ragged, []byte("1 2 3\n1 2\n"), 0644))
	assert.Error(summarizeFile(&buf, ragged, 0))
	assert.Error(summarizeFile(&buf, filepath.Join(dir, "nope.txt"), 0))
}

func TestReadNoise(t *testing.T) {
	assert := assert.New(t)

	geom, err := skymap.NewGeometry(8, 8, skymap.Pos{0, 0}, sampler.Arcmin)
	require.NoError(t, err)
	maps := skymap.NewMap(geom, 2, 1)

	iN, err := readNoise("5,10", maps)
	assert.NoError(err)
	assert.Equal([]int{2, 1, 1}, iN.Shape)
	assert.InDelta(1.0/25, iN.Data[0], 1e-12)
	assert.InDelta(1.0/100, iN.Plane(iN.Index(1, 0, 0))[0], 1e-12)

	_, err = readNoise("5", maps)
	assert.Error(err)

	fn := filepath.Join(t.TempDir(), "noise.fits")
	require.NoError(t, skymap.WriteMapFile(fn, iN))
	read, err := readNoise(fn, maps)
	assert.NoError(err)
	assert.InDeltaSlice(iN.Data, read.Data, 1e-12)
}

// writeInputs builds an nfreq band, one component problem with a 500 uK
// source at the map centre and white noise of level sigma, and returns the
// run arguments.
func writeInputs(t *testing.T, dir string, nfreq int, sigma float64) []string {
	geom, err := skymap.NewGeometry(32, 32, skymap.Pos{0, 0}, 0.5*sampler.Arcmin)
	require.NoError(t, err)
	maps := skymap.NewMap(geom, nfreq, 1)

	cfg := sampler.DefaultConfig()
	mod, err := model.NewPtsrcModel(geom, nfreq, 1)
	require.NoError(t, err)
	amps := make([]float64, nfreq)
	for i := range amps {
		amps[i] = 500
	}
	mod.AddModel(maps, 1, amps, skymap.Pos{0, 0}, cfg.FiducialShape())

	rng, err := rand.NewGenerator(3)
	require.NoError(t, err)
	for i := range maps.Data {
		maps.Data[i] += sigma * rng.NormFloat64()
	}

	mapFile := filepath.Join(dir, "maps.fits")
	require.NoError(t, skymap.WriteMapFile(mapFile, maps))

	specFile := filepath.Join(dir, "spec.txt")
	require.NoError(t, os.WriteFile(specFile, []byte("# l TT\n1 1e-9\n2 2e-9\n"), 0644))

	posFile := filepath.Join(dir, "pos.txt")
	require.NoError(t, os.WriteFile(posFile, []byte("0 0 12.5\n"), 0644))

	freqs := []string{"148", "220", "90"}[:nfreq]
	noise := make([]string, nfreq)
	for i := range noise {
		noise[i] = strconv.FormatFloat(sigma, 'g', -1, 64)
	}
	return []string{strings.Join(freqs, ","), mapFile, strings.Join(noise, ","), specFile, posFile, filepath.Join(dir, "out")}
}

func TestRunSampling(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()
	args := writeInputs(t, dir, 1, 5)

	opts := defaultRunOptions()
	opts.Radius = 6
	opts.BurnIn = 2
	opts.NSamp = 4
	opts.Dump = 2
	cfg := sampler.DefaultConfig()
	cfg.ShapeSteps = 20
	cfg.MultiShapeSteps = 20

	sp, err := newStartupParams(args, opts, cfg)
	require.NoError(t, err)
	sp.out = log.New(io.Discard, "", 0)
	sp.verbose = true

	require.NoError(t, RunSampling(sp))

	odir := args[5]
	fn := output.SampleFile(odir, 0)
	assert.Equal(4, output.CountSamples(fn))

	var buf bytes.Buffer
	assert.NoError(summarizeFile(&buf, fn, 0))
	var mean float64
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "amp0") {
			_, err := fmt.Sscanf(strings.TrimSpace(line), "amp0 %f", &mean)
			assert.NoError(err)
		}
	}
	assert.InEpsilon(500, mean, 0.2)

	for _, name := range []string{"submap.fits", "cmb000.fits", "model002.fits", "residual002.fits"} {
		_, err := os.Stat(filepath.Join(output.DumpDir(odir, 0), name))
		assert.NoError(err, name)
	}

	// A finished run is skipped when continuing
	before, err := os.Stat(fn)
	require.NoError(t, err)
	sp.opts.Cont = true
	require.NoError(t, RunSampling(sp))
	after, err := os.Stat(fn)
	require.NoError(t, err)
	assert.Equal(before.ModTime(), after.ModTime())
}

func TestRunSamplingTwoBands(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()
	args := writeInputs(t, dir, 2, 0.01)
	assert.Equal("148,220", args[0])
	assert.Equal("0.01,0.01", args[2])

	opts := defaultRunOptions()
	opts.Radius = 6
	opts.BurnIn = 5
	opts.NSamp = 20
	cfg := sampler.DefaultConfig()
	cfg.ShapeSteps = 20
	cfg.MultiShapeSteps = 20

	sp, err := newStartupParams(args, opts, cfg)
	require.NoError(t, err)
	sp.out = log.New(io.Discard, "", 0)
	sp.verbose = true

	require.NoError(t, RunSampling(sp))

	fn := output.SampleFile(args[5], 0)
	assert.Equal(20, output.CountSamples(fn))

	f, err := os.Open(fn)
	require.NoError(t, err)
	defer f.Close()
	rows, err := model.ReadTable(f)
	require.NoError(t, err)
	require.Len(t, rows, 20)

	// dec ra amp0 amp1 fwhm_major fwhm_minor angle mJy0 mJy1
	for c := 2; c <= 3; c++ {
		col := make(stats.Float64Data, len(rows))
		for r, row := range rows {
			require.Len(t, row, 9)
			col[r] = row[c]
		}
		mean, err := col.Mean()
		assert.NoError(err)
		assert.InEpsilon(500, mean, 0.05, "column %d", c)
	}
}

func TestRunSamplingOutsideMaps(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()
	args := writeInputs(t, dir, 1, 5)
	// Second candidate is a degree away from the 16 arcmin map
	require.NoError(t, os.WriteFile(args[4], []byte("0 0\n1 1\n"), 0644))

	opts := defaultRunOptions()
	opts.Radius = 3
	opts.BurnIn = 0
	opts.NSamp = 1
	cfg := sampler.DefaultConfig()
	cfg.ShapeSteps = 5
	cfg.MultiShapeSteps = 5

	sp, err := newStartupParams(args, opts, cfg)
	require.NoError(t, err)
	sp.out = log.New(io.Discard, "", 0)
	sp.verbose = true

	require.NoError(t, RunSampling(sp))
	assert.Equal(1, output.CountSamples(output.SampleFile(args[5], 0)))
	info, err := os.Stat(output.SampleFile(args[5], 1))
	assert.NoError(err)
	assert.Equal(int64(0), info.Size())

	// This process only owns the odd groups
	sp.opts.Rank, sp.opts.NProc = 1, 2
	require.NoError(t, os.RemoveAll(args[5]))
	require.NoError(t, RunSampling(sp))
	_, err = os.Stat(output.SampleFile(args[5], 0))
	assert.True(os.IsNotExist(err))
}

func TestNewStartupParamsErrors(t *testing.T) {
	assert := assert.New(t)
	args := []string{"148", "m", "5", "s", "p", "o"}

	_, err := newStartupParams(args, defaultRunOptions(), sampler.DefaultConfig())
	assert.NoError(err)

	args[0] = "x"
	_, err = newStartupParams(args, defaultRunOptions(), sampler.DefaultConfig())
	assert.Error(err)

	args[0] = "148"
	bad := sampler.DefaultConfig()
	bad.CGMaxIter = 0
	_, err = newStartupParams(args, defaultRunOptions(), bad)
	assert.Error(err)
}

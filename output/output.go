// Package output writes per-source sample tables and diagnostic map dumps.
package output

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/CraigKelly/ptgibbs/model"
	"github.com/CraigKelly/ptgibbs/sampler"
	"github.com/CraigKelly/ptgibbs/skymap"
)

const (
	radToDeg    = 180 / math.Pi
	radToArcmin = radToDeg * 60
)

// SampleFile is the sample table of source id
func SampleFile(odir string, id int) string {
	return filepath.Join(odir, fmt.Sprintf("samps%03d.txt", id))
}

// DumpDir is the dump directory of source id
func DumpDir(odir string, id int) string {
	return filepath.Join(odir, fmt.Sprintf("dump%03d", id))
}

// WriteEmpty creates empty sample files, used for sources whose cutout has
// no pixels.
func WriteEmpty(odir string, ids []int) error {
	for _, id := range ids {
		f, err := os.Create(SampleFile(odir, id))
		if err != nil {
			return errors.Wrapf(err, "Could not create empty output for source %d", id)
		}
		if err := f.Close(); err != nil {
			return errors.Wrapf(err, "Could not close empty output for source %d", id)
		}
	}
	return nil
}

// CountSamples is the number of rows in a sample file. Missing or
// unreadable files count as zero.
func CountSamples(filename string) int {
	f, err := os.Open(filename)
	if err != nil {
		return 0
	}
	defer f.Close()

	rows, err := model.ReadTable(f)
	if err != nil {
		return 0
	}
	return len(rows)
}

// Done is true when every source already has at least nsamp samples
func Done(odir string, ids []int, nsamp int) bool {
	for _, id := range ids {
		if CountSamples(SampleFile(odir, id)) < nsamp {
			return false
		}
	}
	return true
}

// FormatRow renders one sample of one source: dec and ra (deg), the
// amplitudes (uK), beam FWHM major and minor (arcmin), beam angle (deg) and
// the flux of every amplitude (mJy). Amplitude k belongs to frequency
// k/ncomp (GHz).
func FormatRow(pos skymap.Pos, amps []float64, shape model.Shape, freqs []float64, ncomp int) (string, error) {
	if len(amps) != len(freqs)*ncomp {
		return "", errors.Errorf("Got %d amplitudes for %d frequencies of %d components", len(amps), len(freqs), ncomp)
	}
	beam, err := model.ExpandBeam(shape)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, " %10.5f %10.5f", pos[0]*radToDeg, pos[1]*radToDeg)
	for _, a := range amps {
		fmt.Fprintf(&sb, " %6.1f", a)
	}
	major, minor := beam.FWHM()
	fmt.Fprintf(&sb, " %8.3f %8.3f %8.3f", major*radToArcmin, minor*radToArcmin, beam.Phi*radToDeg)
	for k, a := range amps {
		fmt.Fprintf(&sb, " %6.2f", model.UK2MJ(a, freqs[k/ncomp], beam.SigmaMajor, beam.SigmaMinor))
	}
	return sb.String(), nil
}

// Writer appends sample rows to the files of a group of sources. Rows are
// flushed after every sample.
type Writer struct {
	ids   []int
	freqs []float64
	ncomp int
	files []*os.File
	bufs  []*bufio.Writer
}

// NewWriter truncates and opens the sample files of the given sources
func NewWriter(odir string, ids []int, freqs []float64, ncomp int) (*Writer, error) {
	w := &Writer{
		ids:   append([]int(nil), ids...),
		freqs: freqs,
		ncomp: ncomp,
	}
	for _, id := range ids {
		f, err := os.Create(SampleFile(odir, id))
		if err != nil {
			w.Close()
			return nil, errors.Wrapf(err, "Could not open output for source %d", id)
		}
		w.files = append(w.files, f)
		w.bufs = append(w.bufs, bufio.NewWriter(f))
	}
	return w, nil
}

// Write adds one row per source of the state
func (w *Writer) Write(st sampler.State) error {
	if st.NSrc() != len(w.ids) {
		return errors.Errorf("State has %d sources, writer has %d", st.NSrc(), len(w.ids))
	}
	for i := range w.ids {
		row, err := FormatRow(st.Pos[i], st.Amps[i], st.Shapes[i], w.freqs, w.ncomp)
		if err != nil {
			return errors.Wrapf(err, "Could not format source %d", w.ids[i])
		}
		if _, err := fmt.Fprintln(w.bufs[i], row); err != nil {
			return errors.Wrapf(err, "Could not write source %d", w.ids[i])
		}
		if err := w.bufs[i].Flush(); err != nil {
			return errors.Wrapf(err, "Could not flush source %d", w.ids[i])
		}
	}
	return nil
}

// Close flushes and closes every file, returning the first error
func (w *Writer) Close() error {
	var first error
	for i, f := range w.files {
		if err := w.bufs[i].Flush(); err != nil && first == nil {
			first = err
		}
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	w.files, w.bufs = nil, nil
	return first
}

// Dump holds the maps written for one source at one sweep
type Dump struct {
	CMB      *skymap.Map
	Residual *skymap.Map
	Model    *skymap.Map
	Submap   *skymap.Map
}

// WriteDump cuts every map of d to box and writes them as FITS files
// {cmb,residual,model}%03d.fits and submap.fits under DumpDir(odir, id).
func WriteDump(odir string, id, sweep int, box [2]skymap.Pos, d Dump) error {
	dir := DumpDir(odir, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "Could not create dump directory %s", dir)
	}

	files := []struct {
		name string
		m    *skymap.Map
	}{
		{fmt.Sprintf("cmb%03d.fits", sweep), d.CMB},
		{fmt.Sprintf("residual%03d.fits", sweep), d.Residual},
		{fmt.Sprintf("model%03d.fits", sweep), d.Model},
		{"submap.fits", d.Submap},
	}
	for _, f := range files {
		if f.m == nil {
			continue
		}
		if err := skymap.WriteMapFile(filepath.Join(dir, f.name), f.m.Submap(box)); err != nil {
			return errors.Wrapf(err, "Could not dump %s", f.name)
		}
	}
	return nil
}

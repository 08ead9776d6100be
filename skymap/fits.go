package skymap

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/astrogo/fitsio"
	"github.com/pkg/errors"
)

const deg = math.Pi / 180

// ReadFITS reads the primary image of a FITS stream as a map. FITS axes are
// listed fastest first, so NAXIS1 is x, NAXIS2 is y and any further axes
// become the leading map axes in reverse order. The pixel grid comes from
// the CRPIXn/CRVALn/CDELTn keywords (degrees).
func ReadFITS(r io.Reader) (*Map, error) {
	f, err := fitsio.Open(r)
	if err != nil {
		return nil, errors.Wrap(err, "Could not open FITS stream")
	}
	defer f.Close()

	if len(f.HDUs()) < 1 {
		return nil, errors.New("FITS stream has no HDU")
	}
	img, ok := f.HDU(0).(fitsio.Image)
	if !ok {
		return nil, errors.New("Primary HDU is not an image")
	}
	hdr := img.Header()
	axes := hdr.Axes()
	if len(axes) < 2 {
		return nil, errors.Errorf("Map must have at least 2 axes, got %d", len(axes))
	}

	npix := 1
	for _, n := range axes {
		npix *= n
	}
	data := make([]float64, npix)
	if err := img.Read(&data); err != nil {
		return nil, errors.Wrap(err, "Could not read FITS image data")
	}

	card := func(name string, def float64) float64 {
		c := hdr.Get(name)
		if c == nil {
			return def
		}
		switch v := c.Value.(type) {
		case float64:
			return v
		case float32:
			return float64(v)
		case int:
			return float64(v)
		case int64:
			return float64(v)
		}
		return def
	}

	geom := Geometry{
		Ny:   axes[1],
		Nx:   axes[0],
		DRA:  card("CDELT1", 1) * deg,
		DDec: card("CDELT2", 1) * deg,
	}
	// FITS pixels are 1-based
	geom.RA0 = card("CRVAL1", 0)*deg + (1-card("CRPIX1", 1))*geom.DRA
	geom.Dec0 = card("CRVAL2", 0)*deg + (1-card("CRPIX2", 1))*geom.DDec

	shape := make([]int, 0, len(axes)-2)
	for i := len(axes) - 1; i >= 2; i-- {
		shape = append(shape, axes[i])
	}
	return NewMapFrom(geom, data, shape...)
}

// WriteFITS writes the map as a 64 bit float primary image, see ReadFITS
// for the axis and keyword conventions.
func WriteFITS(w io.Writer, m *Map) error {
	f, err := fitsio.Create(w)
	if err != nil {
		return errors.Wrap(err, "Could not create FITS stream")
	}
	defer f.Close()

	axes := []int{m.Geom.Nx, m.Geom.Ny}
	for i := len(m.Shape) - 1; i >= 0; i-- {
		axes = append(axes, m.Shape[i])
	}

	img := fitsio.NewImage(-64, axes)
	defer img.Close()

	err = img.Header().Append(
		fitsio.Card{Name: "CTYPE1", Value: "RA---CAR"},
		fitsio.Card{Name: "CTYPE2", Value: "DEC--CAR"},
		fitsio.Card{Name: "CRPIX1", Value: 1.0},
		fitsio.Card{Name: "CRPIX2", Value: 1.0},
		fitsio.Card{Name: "CRVAL1", Value: m.Geom.RA0 / deg},
		fitsio.Card{Name: "CRVAL2", Value: m.Geom.Dec0 / deg},
		fitsio.Card{Name: "CDELT1", Value: m.Geom.DRA / deg},
		fitsio.Card{Name: "CDELT2", Value: m.Geom.DDec / deg},
	)
	if err != nil {
		return errors.Wrap(err, "Could not write FITS header")
	}
	if err := img.Write(m.Data); err != nil {
		return errors.Wrap(err, "Could not write FITS image data")
	}
	return f.Write(img)
}

// ReadMapFile reads a single FITS map from disk
func ReadMapFile(filename string) (*Map, error) {
	fh, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "Could not READ map from %s", filename)
	}
	defer fh.Close()

	m, err := ReadFITS(fh)
	if err != nil {
		return nil, errors.Wrapf(err, "Could not PARSE map %s", filename)
	}
	return m, nil
}

// WriteMapFile writes a single FITS map to disk
func WriteMapFile(filename string, m *Map) error {
	fh, err := os.Create(filename)
	if err != nil {
		return errors.Wrapf(err, "Could not create map file %s", filename)
	}
	if err := WriteFITS(fh, m); err != nil {
		fh.Close()
		return errors.Wrapf(err, "Could not write map %s", filename)
	}
	return fh.Close()
}

// ReadMaps resolves a map specification to a map with exactly ntot axes and
// n entries on the first axis. If path names a file, it is read directly
// and a map missing the first axis is broadcast n times. Otherwise path is a
// fmt pattern taking the index 0..n-1, the per-index maps are stacked and
// unit axes are inserted after the first axis as needed.
func ReadMaps(path string, n int, ntot int) (*Map, error) {
	if _, err := os.Stat(path); err == nil {
		m, err := ReadMapFile(path)
		if err != nil {
			return nil, err
		}
		if m.Ndim() == ntot-1 {
			m = m.Broadcast(n)
		}
		if m.Ndim() != ntot {
			return nil, errors.Errorf("Map %s must have %d dimensions, got %d", path, ntot, m.Ndim())
		}
		return m, nil
	}

	maps := make([]*Map, n)
	for i := range maps {
		m, err := ReadMapFile(fmt.Sprintf(path, i))
		if err != nil {
			return nil, err
		}
		maps[i] = m
	}
	res, err := Stack(maps)
	if err != nil {
		return nil, errors.Wrapf(err, "Could not stack maps %s", path)
	}
	if res.Ndim() > ntot {
		return nil, errors.Errorf("Maps %s have %d dimensions, at most %d allowed", path, res.Ndim(), ntot)
	}
	shape := []int{res.Shape[0]}
	for i := res.Ndim(); i < ntot; i++ {
		shape = append(shape, 1)
	}
	shape = append(shape, res.Shape[1:]...)
	return res.Reshape(shape...)
}

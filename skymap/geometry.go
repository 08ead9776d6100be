package skymap

import (
	"math"

	"github.com/pkg/errors"
)

// Pos is a sky position in radians, in (dec, ra) order so that it matches
// the (y, x) axis order of a map.
type Pos [2]float64

// Sub returns p - o
func (p Pos) Sub(o Pos) Pos {
	return Pos{p[0] - o[0], p[1] - o[1]}
}

// Add returns p + o
func (p Pos) Add(o Pos) Pos {
	return Pos{p[0] + o[0], p[1] + o[1]}
}

// Norm is the flat-sky length of p
func (p Pos) Norm() float64 {
	return math.Hypot(p[0], p[1])
}

// Rewind wraps an angle into [-pi, pi)
func Rewind(a float64) float64 {
	r := math.Mod(a+math.Pi, 2*math.Pi)
	if r < 0 {
		r += 2 * math.Pi
	}
	return r - math.Pi
}

// Geometry is a flat cylindrical (CAR) pixelization. The centre of pixel
// (y, x) is at (Dec0 + y*DDec, RA0 + x*DRA), all in radians.
type Geometry struct {
	Ny, Nx    int
	Dec0, RA0 float64
	DDec, DRA float64
}

// NewGeometry returns a geometry of ny by nx pixels of the given size (in
// radians) whose pixel grid is centred on center.
func NewGeometry(ny, nx int, center Pos, pixSize float64) (Geometry, error) {
	if ny < 1 || nx < 1 {
		return Geometry{}, errors.Errorf("Invalid geometry shape %dx%d", ny, nx)
	}
	if pixSize <= 0 {
		return Geometry{}, errors.Errorf("Invalid pixel size %g", pixSize)
	}
	return Geometry{
		Ny:   ny,
		Nx:   nx,
		Dec0: center[0] - float64(ny-1)/2*pixSize,
		RA0:  center[1] - float64(nx-1)/2*pixSize,
		DDec: pixSize,
		DRA:  pixSize,
	}, nil
}

// NPix is the number of pixels in one plane
func (g Geometry) NPix() int {
	return g.Ny * g.Nx
}

// Empty is true when the geometry has no pixels
func (g Geometry) Empty() bool {
	return g.Ny <= 0 || g.Nx <= 0
}

// PixArea is the solid angle of one pixel in steradians
func (g Geometry) PixArea() float64 {
	return math.Abs(g.DDec * g.DRA)
}

// Pix2Pos returns the sky position of (fractional) pixel coordinates
func (g Geometry) Pix2Pos(y, x float64) Pos {
	return Pos{g.Dec0 + y*g.DDec, g.RA0 + x*g.DRA}
}

// Pos2Pix returns the fractional pixel coordinates (y, x) of a position
func (g Geometry) Pos2Pix(p Pos) (float64, float64) {
	return (p[0] - g.Dec0) / g.DDec, (p[1] - g.RA0) / g.DRA
}

// PosMap returns the dec and ra coordinates of every pixel centre, each
// flattened in (y, x) order.
func (g Geometry) PosMap() (dec []float64, ra []float64) {
	dec = make([]float64, g.NPix())
	ra = make([]float64, g.NPix())
	for y := 0; y < g.Ny; y++ {
		for x := 0; x < g.Nx; x++ {
			p := g.Pix2Pos(float64(y), float64(x))
			dec[y*g.Nx+x] = p[0]
			ra[y*g.Nx+x] = p[1]
		}
	}
	return
}

// SubBox returns the pixel range [y0, y1) x [x0, x1) of all pixels whose
// centres fall inside the box spanned by the two corners. The range is
// clipped to the geometry and may be empty.
func (g Geometry) SubBox(box [2]Pos) (y0, y1, x0, x1 int) {
	ya, xa := g.Pos2Pix(box[0])
	yb, xb := g.Pos2Pix(box[1])
	y0, y1 = pixRange(ya, yb, g.Ny)
	x0, x1 = pixRange(xa, xb, g.Nx)
	return
}

func pixRange(a, b float64, n int) (int, int) {
	if a > b {
		a, b = b, a
	}
	const eps = 1e-9
	lo := int(math.Ceil(a - eps))
	hi := int(math.Floor(b+eps)) + 1
	if lo < 0 {
		lo = 0
	}
	if hi > n {
		hi = n
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// Slice returns the geometry of the pixel range starting at (y0, x0)
func (g Geometry) Slice(y0, ny, x0, nx int) Geometry {
	p := g.Pix2Pos(float64(y0), float64(x0))
	return Geometry{
		Ny:   ny,
		Nx:   nx,
		Dec0: p[0],
		RA0:  p[1],
		DDec: g.DDec,
		DRA:  g.DRA,
	}
}

// Compatible is true when the two geometries describe the same pixels
func (g Geometry) Compatible(o Geometry) bool {
	const eps = 1e-9
	near := func(a, b float64) bool {
		return math.Abs(a-b) <= eps*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
	}
	return g.Ny == o.Ny && g.Nx == o.Nx &&
		near(g.DDec, o.DDec) && near(g.DRA, o.DRA) &&
		near(g.Dec0, o.Dec0) && near(g.RA0, o.RA0)
}

// fftFreq returns the signed frequency index of bin k of an n point DFT, in
// cycles per sample.
func fftFreq(k, n int) float64 {
	if k < (n+1)/2 {
		return float64(k) / float64(n)
	}
	return float64(k-n) / float64(n)
}

// Lmap returns the multipole |l| of every Fourier mode, flattened in (y, x)
// order.
func (g Geometry) Lmap() []float64 {
	ls := make([]float64, g.NPix())
	for y := 0; y < g.Ny; y++ {
		ly := 2 * math.Pi * fftFreq(y, g.Ny) / math.Abs(g.DDec)
		for x := 0; x < g.Nx; x++ {
			lx := 2 * math.Pi * fftFreq(x, g.Nx) / math.Abs(g.DRA)
			ls[y*g.Nx+x] = math.Hypot(ly, lx)
		}
	}
	return ls
}

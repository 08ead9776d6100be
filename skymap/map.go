package skymap

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// Map is a stack of pixel planes: Shape gives the leading (non-spatial) axes,
// for example [nfreq, ncomp], and Geom the trailing (y, x) plane. Data is
// row-major with x fastest.
type Map struct {
	Shape []int
	Geom  Geometry
	Data  []float64
}

func prod(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

// NewMap returns a zero map with the given leading axes
func NewMap(geom Geometry, shape ...int) *Map {
	sh := append([]int(nil), shape...)
	return &Map{
		Shape: sh,
		Geom:  geom,
		Data:  make([]float64, prod(sh)*geom.NPix()),
	}
}

// NewMapFrom wraps existing data, checking its length
func NewMapFrom(geom Geometry, data []float64, shape ...int) (*Map, error) {
	sh := append([]int(nil), shape...)
	if len(data) != prod(sh)*geom.NPix() {
		return nil, errors.Errorf("Map data length %d does not match shape %v x %dx%d", len(data), sh, geom.Ny, geom.Nx)
	}
	return &Map{Shape: sh, Geom: geom, Data: data}, nil
}

// NPre is the number of planes (product of the leading axes)
func (m *Map) NPre() int {
	return prod(m.Shape)
}

// Ndim is the total number of axes including (y, x)
func (m *Map) Ndim() int {
	return len(m.Shape) + 2
}

// Plane returns the i-th (y, x) plane of the flattened leading axes. The
// returned slice aliases the map data.
func (m *Map) Plane(i int) []float64 {
	n := m.Geom.NPix()
	return m.Data[i*n : (i+1)*n]
}

// Index flattens a leading-axis index
func (m *Map) Index(idx ...int) int {
	if len(idx) != len(m.Shape) {
		panic("skymap: index rank does not match map shape")
	}
	i := 0
	for k, v := range idx {
		i = i*m.Shape[k] + v
	}
	return i
}

// Copy returns a deep copy of the map
func (m *Map) Copy() *Map {
	cp := NewMap(m.Geom, m.Shape...)
	copy(cp.Data, m.Data)
	return cp
}

// ZerosLike returns a zero map of the same shape
func (m *Map) ZerosLike() *Map {
	return NewMap(m.Geom, m.Shape...)
}

// SameShape is true when both maps have equal leading axes and geometry
// size.
func (m *Map) SameShape(o *Map) bool {
	if len(m.Shape) != len(o.Shape) {
		return false
	}
	for i, s := range m.Shape {
		if o.Shape[i] != s {
			return false
		}
	}
	return m.Geom.Ny == o.Geom.Ny && m.Geom.Nx == o.Geom.Nx
}

// Sub returns a new map m - o
func (m *Map) Sub(o *Map) *Map {
	res := m.Copy()
	floats.Sub(res.Data, o.Data)
	return res
}

// Reshape returns a map sharing the same data with new leading axes
func (m *Map) Reshape(shape ...int) (*Map, error) {
	return NewMapFrom(m.Geom, m.Data, shape...)
}

// Cutout copies the pixel range starting at (y0, x0) of every plane
func (m *Map) Cutout(y0, ny, x0, nx int) *Map {
	res := NewMap(m.Geom.Slice(y0, ny, x0, nx), m.Shape...)
	for p := 0; p < m.NPre(); p++ {
		src := m.Plane(p)
		dst := res.Plane(p)
		for y := 0; y < ny; y++ {
			copy(dst[y*nx:(y+1)*nx], src[(y0+y)*m.Geom.Nx+x0:(y0+y)*m.Geom.Nx+x0+nx])
		}
	}
	return res
}

// Submap cuts out the pixels inside the box spanned by two corners. The
// result has zero pixels when the box misses the map.
func (m *Map) Submap(box [2]Pos) *Map {
	y0, y1, x0, x1 := m.Geom.SubBox(box)
	return m.Cutout(y0, y1-y0, x0, x1-x0)
}

// Size is the total number of values in the map
func (m *Map) Size() int {
	return len(m.Data)
}

// Broadcast repeats the map n times along a new leading axis
func (m *Map) Broadcast(n int) *Map {
	res := NewMap(m.Geom, append([]int{n}, m.Shape...)...)
	for i := 0; i < n; i++ {
		copy(res.Data[i*len(m.Data):(i+1)*len(m.Data)], m.Data)
	}
	return res
}

// Stack joins equally shaped maps along a new leading axis
func Stack(maps []*Map) (*Map, error) {
	if len(maps) < 1 {
		return nil, errors.Errorf("No maps to stack")
	}
	first := maps[0]
	res := NewMap(first.Geom, append([]int{len(maps)}, first.Shape...)...)
	for i, m := range maps {
		if !m.SameShape(first) {
			return nil, errors.Errorf("Map %d has shape %v %dx%d, expected %v %dx%d",
				i, m.Shape, m.Geom.Ny, m.Geom.Nx, first.Shape, first.Geom.Ny, first.Geom.Nx)
		}
		copy(res.Data[i*len(first.Data):(i+1)*len(first.Data)], m.Data)
	}
	return res, nil
}

// Package meshgen generates procedural triangle meshes for tests, benchmarks
// and the bvhbuild tool.
package meshgen

import (
	"fmt"
	"math"
	"math/rand"

	"golang.org/x/image/math/f32"
)

// Mesh is an indexed triangle list.
type Mesh struct {
	Positions []f32.Vec3
	Normals   []f32.Vec3
	Indices   []uint32
}

// TriangleCount returns len(Indices)/3.
func (m *Mesh) TriangleCount() int { return len(m.Indices) / 3 }

// Triangle returns the single triangle (0,0,0), (1,0,0), (0,1,0).
func Triangle() *Mesh {
	n := f32.Vec3{0, 0, 1}
	return &Mesh{
		Positions: []f32.Vec3{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}},
		Normals:   []f32.Vec3{n, n, n},
		Indices:   []uint32{0, 1, 2},
	}
}

// Cube returns the unit cube [0,1]^3 as 8 shared vertices and 12 triangles.
func Cube() *Mesh {
	m := &Mesh{}
	for i := range 8 {
		p := f32.Vec3{float32(i & 1), float32(i >> 1 & 1), float32(i >> 2 & 1)}
		m.Positions = append(m.Positions, p)
		m.Normals = append(m.Normals, normalize(f32.Vec3{p[0] - 0.5, p[1] - 0.5, p[2] - 0.5}))
	}
	// Two triangles per face; vertex i has bit 0 = x, bit 1 = y, bit 2 = z.
	faces := [6][4]uint32{
		{0, 2, 6, 4}, // x = 0
		{1, 5, 7, 3}, // x = 1
		{0, 4, 5, 1}, // y = 0
		{2, 3, 7, 6}, // y = 1
		{0, 1, 3, 2}, // z = 0
		{4, 6, 7, 5}, // z = 1
	}
	for _, f := range faces {
		m.Indices = append(m.Indices, f[0], f[1], f[2], f[0], f[2], f[3])
	}
	return m
}

// Sphere returns a UV sphere of the given radius centered at the origin.
// It has rings*segments*2 triangles, some of them degenerate at the poles.
func Sphere(rings, segments int, radius float32) (*Mesh, error) {
	if rings < 2 || segments < 3 {
		return nil, fmt.Errorf("meshgen: sphere needs at least 2 rings and 3 segments, got %d and %d", rings, segments)
	}
	m := &Mesh{}
	for r := 0; r <= rings; r++ {
		theta := math.Pi * float64(r) / float64(rings)
		for s := 0; s <= segments; s++ {
			phi := 2 * math.Pi * float64(s) / float64(segments)
			n := f32.Vec3{
				float32(math.Sin(theta) * math.Cos(phi)),
				float32(math.Cos(theta)),
				float32(math.Sin(theta) * math.Sin(phi)),
			}
			m.Normals = append(m.Normals, n)
			m.Positions = append(m.Positions, f32.Vec3{n[0] * radius, n[1] * radius, n[2] * radius})
		}
	}
	stride := uint32(segments + 1)
	for r := range uint32(rings) {
		for s := range uint32(segments) {
			a := r*stride + s
			b := a + stride
			m.Indices = append(m.Indices, a, b, a+1, a+1, b, b+1)
		}
	}
	return m, nil
}

// Grid returns an nx by ny grid of unit quads in the z = 0 plane, two
// triangles per quad.
func Grid(nx, ny int) (*Mesh, error) {
	if nx < 1 || ny < 1 {
		return nil, fmt.Errorf("meshgen: grid needs positive dimensions, got %dx%d", nx, ny)
	}
	m := &Mesh{}
	for y := 0; y <= ny; y++ {
		for x := 0; x <= nx; x++ {
			m.Positions = append(m.Positions, f32.Vec3{float32(x), float32(y), 0})
			m.Normals = append(m.Normals, f32.Vec3{0, 0, 1})
		}
	}
	stride := uint32(nx + 1)
	for y := range uint32(ny) {
		for x := range uint32(nx) {
			a := y*stride + x
			m.Indices = append(m.Indices, a, a+1, a+stride+1, a, a+stride+1, a+stride)
		}
	}
	return m, nil
}

// DegenerateStrip returns n zero-area triangles whose vertices all lie on
// the x axis. With collapsed is true every triangle is the same point.
func DegenerateStrip(n int, collapsed bool) *Mesh {
	m := &Mesh{}
	for i := range n {
		x := float32(i)
		if collapsed {
			x = 0
		}
		base := uint32(len(m.Positions))
		m.Positions = append(m.Positions, f32.Vec3{x, 0, 0}, f32.Vec3{x + 0.5, 0, 0}, f32.Vec3{x + 1, 0, 0})
		if collapsed {
			m.Positions[base+1] = f32.Vec3{}
			m.Positions[base+2] = f32.Vec3{}
		}
		m.Indices = append(m.Indices, base, base+1, base+2)
	}
	return m
}

// RandomSoup returns n independent triangles in [0, extent)^3. Each
// triangle's vertices lie within size of its first vertex.
func RandomSoup(n int, extent, size float32, seed int64) *Mesh {
	rng := rand.New(rand.NewSource(seed))
	m := &Mesh{}
	for range n {
		a := f32.Vec3{rng.Float32() * extent, rng.Float32() * extent, rng.Float32() * extent}
		base := uint32(len(m.Positions))
		m.Positions = append(m.Positions, a)
		for range 2 {
			m.Positions = append(m.Positions, f32.Vec3{
				a[0] + (rng.Float32()*2-1)*size,
				a[1] + (rng.Float32()*2-1)*size,
				a[2] + (rng.Float32()*2-1)*size,
			})
		}
		m.Indices = append(m.Indices, base, base+1, base+2)
	}
	return m
}

func normalize(v f32.Vec3) f32.Vec3 {
	l := float32(math.Sqrt(float64(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])))
	if l == 0 {
		return v
	}
	return f32.Vec3{v[0] / l, v[1] / l, v[2] / l}
}

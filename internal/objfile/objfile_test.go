package objfile

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"golang.org/x/image/math/f32"
)

const quad = `# unit quad
o quad
v 0 0 0
v 1 0 0
v 1 1 0
v 0 1 0
vn 0 0 1
usemtl none
f 1//1 2//1 3//1 4//1
`

func TestReadQuad(t *testing.T) {
	m, err := Read(strings.NewReader(quad))
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Positions) != 4 {
		t.Fatalf("%d positions", len(m.Positions))
	}
	if want := []uint32{0, 1, 2, 0, 2, 3}; !slices.Equal(m.Indices, want) {
		t.Errorf("indices = %v, want %v", m.Indices, want)
	}
	for i, n := range m.Normals {
		if n != (f32.Vec3{0, 0, 1}) {
			t.Errorf("normal %d = %v", i, n)
		}
	}
}

func TestReadNegativeIndices(t *testing.T) {
	m, err := Read(strings.NewReader("v 0 0 0\nv 1 0 0\nv 0 1 0\nf -3 -2 -1\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(m.Indices, []uint32{0, 1, 2}) {
		t.Errorf("indices = %v", m.Indices)
	}
	if m.Normals != nil {
		t.Errorf("normals = %v, want none", m.Normals)
	}
}

func TestReadErrors(t *testing.T) {
	tests := []struct {
		name, src string
	}{
		{"index range", "v 0 0 0\nf 1 2 3\n"},
		{"short vertex", "v 0 0\n"},
		{"bad float", "v 0 x 0\n"},
		{"two vertices", "v 0 0 0\nv 1 1 1\nf 1 2\n"},
		{"missing vertex", "v 0 0 0\nf /1 1 1\n"},
	}
	for _, tt := range tests {
		if _, err := Read(strings.NewReader(tt.src)); err == nil {
			t.Errorf("%s: Read succeeded", tt.name)
		} else if !strings.HasPrefix(err.Error(), "line ") {
			t.Errorf("%s: error %q lacks line number", tt.name, err)
		}
	}
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quad.obj")
	if err := os.WriteFile(path, []byte(quad), 0o600); err != nil {
		t.Fatal(err)
	}
	m, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Indices) != 6 {
		t.Errorf("%d indices", len(m.Indices))
	}
	if _, err := Open(filepath.Join(t.TempDir(), "missing.obj")); err == nil {
		t.Error("Open of missing file succeeded")
	}
}

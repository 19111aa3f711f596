// Package objfile reads triangle geometry from Wavefront OBJ files.
//
// Only vertex positions, vertex normals and faces are interpreted. Faces
// with more than three vertices are fan triangulated. Materials, groups
// and texture coordinates are skipped.
package objfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/image/math/f32"
)

// Mesh is the geometry of an OBJ file. Normals, when present, has one entry
// per position, taken from the last face that referenced it.
type Mesh struct {
	Positions []f32.Vec3
	Normals   []f32.Vec3
	Indices   []uint32
}

// Open reads the OBJ file at path.
func Open(path string) (*Mesh, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Read parses OBJ data from r.
func Read(r io.Reader) (*Mesh, error) {
	var (
		m       Mesh
		normals []f32.Vec3
		lineNum int
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lineNum++
		tokens := strings.Fields(scanner.Text())
		if len(tokens) == 0 || strings.HasPrefix(tokens[0], "#") {
			continue
		}

		switch tokens[0] {
		case "v":
			v, err := parseVec3(tokens)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNum, err)
			}
			m.Positions = append(m.Positions, v)
		case "vn":
			v, err := parseVec3(tokens)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNum, err)
			}
			normals = append(normals, v)
		case "f":
			if err := m.addFace(tokens[1:], normals); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNum, err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(normals) == 0 {
		m.Normals = nil
	}
	return &m, nil
}

func (m *Mesh) addFace(args []string, normals []f32.Vec3) error {
	if len(args) < 3 {
		return fmt.Errorf("face with %d vertices", len(args))
	}
	face := make([]uint32, len(args))
	for i, arg := range args {
		parts := strings.Split(arg, "/")
		if parts[0] == "" {
			return fmt.Errorf("face argument %d does not include a vertex index", i)
		}
		v, err := selectIndex(parts[0], len(m.Positions))
		if err != nil {
			return fmt.Errorf("vertex of face argument %d: %w", i, err)
		}
		face[i] = uint32(v)

		if len(parts) == 3 && parts[2] != "" {
			n, err := selectIndex(parts[2], len(normals))
			if err != nil {
				return fmt.Errorf("normal of face argument %d: %w", i, err)
			}
			for len(m.Normals) < len(m.Positions) {
				m.Normals = append(m.Normals, f32.Vec3{})
			}
			m.Normals[v] = normals[n]
		}
	}
	for i := 1; i+1 < len(face); i++ {
		m.Indices = append(m.Indices, face[0], face[i], face[i+1])
	}
	return nil
}

// selectIndex resolves a 1-based OBJ index, where negative values count
// back from the end of a list of length n.
func selectIndex(token string, n int) (int, error) {
	i, err := strconv.Atoi(token)
	if err != nil {
		return 0, err
	}
	switch {
	case i > 0 && i <= n:
		return i - 1, nil
	case i < 0 && -i <= n:
		return n + i, nil
	default:
		return 0, fmt.Errorf("index %d out of range for %d elements", i, n)
	}
}

func parseVec3(tokens []string) (f32.Vec3, error) {
	if len(tokens) < 4 {
		return f32.Vec3{}, fmt.Errorf("%q needs 3 components, got %d", tokens[0], len(tokens)-1)
	}
	var v f32.Vec3
	for i := range 3 {
		f, err := strconv.ParseFloat(tokens[i+1], 32)
		if err != nil {
			return f32.Vec3{}, err
		}
		v[i] = float32(f)
	}
	return v, nil
}

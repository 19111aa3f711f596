package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gogpu/meshbvh"
	"github.com/gogpu/meshbvh/internal/meshgen"
	"github.com/gogpu/meshbvh/internal/objfile"
)

const meshUsage = `a Wavefront .obj file or a generated mesh:
  triangle, cube, sphere:RINGSxSEGMENTS, grid:NXxNY, strip:N,
  point:N (collapsed strip), soup:N[:SEED]`

// loadMesh reads a mesh file or generates the mesh named by spec.
func loadMesh(spec string) (*meshbvh.HostMesh, error) {
	if strings.HasSuffix(strings.ToLower(spec), ".obj") {
		m, err := objfile.Open(spec)
		if err != nil {
			return nil, err
		}
		return &meshbvh.HostMesh{Positions: m.Positions, Normals: m.Normals, Indices: m.Indices}, nil
	}

	m, err := generate(spec)
	if err != nil {
		return nil, err
	}
	return &meshbvh.HostMesh{Positions: m.Positions, Normals: m.Normals, Indices: m.Indices}, nil
}

func generate(spec string) (*meshgen.Mesh, error) {
	name, args, _ := strings.Cut(spec, ":")
	switch name {
	case "triangle":
		return meshgen.Triangle(), nil
	case "cube":
		return meshgen.Cube(), nil
	case "sphere":
		r, s, err := parsePair(args, 16, 32)
		if err != nil {
			return nil, fmt.Errorf("sphere: %w", err)
		}
		return meshgen.Sphere(r, s, 1)
	case "grid":
		x, y, err := parsePair(args, 16, 16)
		if err != nil {
			return nil, fmt.Errorf("grid: %w", err)
		}
		return meshgen.Grid(x, y)
	case "strip", "point":
		n, err := parseCount(args, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return meshgen.DegenerateStrip(n, name == "point"), nil
	case "soup":
		countArg, seedArg, _ := strings.Cut(args, ":")
		n, err := parseCount(countArg, 10000)
		if err != nil {
			return nil, fmt.Errorf("soup: %w", err)
		}
		seed := int64(1)
		if seedArg != "" {
			if seed, err = strconv.ParseInt(seedArg, 10, 64); err != nil {
				return nil, fmt.Errorf("soup seed: %w", err)
			}
		}
		return meshgen.RandomSoup(n, 100, 1, seed), nil
	default:
		return nil, fmt.Errorf("unknown mesh %q; expected %s", spec, meshUsage)
	}
}

func parseCount(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("count %d must be positive", n)
	}
	return n, nil
}

func parsePair(s string, defA, defB int) (int, int, error) {
	if s == "" {
		return defA, defB, nil
	}
	as, bs, ok := strings.Cut(s, "x")
	if !ok {
		return 0, 0, fmt.Errorf("%q is not of the form AxB", s)
	}
	a, err := strconv.Atoi(as)
	if err != nil {
		return 0, 0, err
	}
	b, err := strconv.Atoi(bs)
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

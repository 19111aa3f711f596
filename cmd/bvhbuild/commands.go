package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/gogpu/meshbvh"
	"github.com/gogpu/meshbvh/compute"
	"github.com/gogpu/meshbvh/compute/cpu"
	"github.com/gogpu/meshbvh/compute/gpu"
)

// session is a compute context, a generator and an uploaded mesh.
type session struct {
	cfg  *Config
	cc   compute.Context
	gen  *meshbvh.Generator
	host *meshbvh.HostMesh
	mesh *meshbvh.GPUMesh

	closeLog func() error
}

func openContext(cfg BackendConfig) (compute.Context, error) {
	switch cfg.Kind {
	case "cpu":
		return cpu.New(cfg.Workers), nil
	case "gpu":
		cc, err := gpu.NewDefault(gpu.WithSPIRV(cfg.SPIRV))
		if err != nil {
			return nil, err
		}
		return cc, nil
	default:
		return nil, fmt.Errorf("unknown backend %q; expected cpu or gpu", cfg.Kind)
	}
}

func newSession(c *cli.Context) (*session, error) {
	if c.NArg() != 1 {
		return nil, errors.New("expected exactly one mesh argument")
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	opts, err := cfg.Build.Options()
	if err != nil {
		return nil, err
	}
	host, err := loadMesh(c.Args().First())
	if err != nil {
		return nil, err
	}

	s := &session{cfg: cfg, host: host, closeLog: setupLogging(cfg.Logging)}
	if s.cc, err = openContext(cfg.Backend); err != nil {
		s.Close()
		return nil, err
	}
	if s.gen, err = meshbvh.NewGenerator(s.cc, opts...); err != nil {
		s.Close()
		return nil, err
	}
	if s.mesh, err = host.Upload(s.cc); err != nil {
		s.Close()
		return nil, err
	}
	meshbvh.Logger().Info("bvhbuild: session ready",
		"backend", s.cc.Name(), "mesh", c.Args().First(), "triangles", host.TriangleCount())
	return s, nil
}

func (s *session) Close() {
	if s.mesh != nil {
		s.mesh.Release()
	}
	if s.gen != nil {
		s.gen.Close()
	}
	if s.cc != nil {
		s.cc.Close()
	}
	s.closeLog()
}

// readTree builds the mesh and reads the result back.
func (s *session) readTree(ctx context.Context) (*meshbvh.MeshBVH, []meshbvh.Node, []uint32, error) {
	bvh, err := s.gen.Build(ctx, s.mesh)
	if err != nil {
		return nil, nil, nil, err
	}
	nodes, err := bvh.ReadNodes(ctx)
	if err != nil {
		bvh.Release()
		return nil, nil, nil, err
	}
	indices, err := bvh.ReadIndices(ctx)
	if err != nil {
		bvh.Release()
		return nil, nil, nil, err
	}
	return bvh, nodes, indices, nil
}

// BuildMesh builds one hierarchy and prints its shape and timings.
func BuildMesh(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	bvh, nodes, indices, err := s.readTree(context.Background())
	if err != nil {
		return err
	}
	defer bvh.Release()

	writeSummary(os.Stdout, bvh, summarize(nodes))
	writeStats(os.Stdout, bvh.Stats())

	if path := c.String("nodes"); path != "" {
		if err := os.WriteFile(path, meshbvh.EncodeNodes(nodes), 0o644); err != nil {
			return err
		}
	}
	if path := c.String("indices"); path != "" {
		if err := os.WriteFile(path, compute.Bytes(indices), 0o644); err != nil {
			return err
		}
	}
	if c.Bool("lines") {
		lines, count, err := s.gen.BoxLines(bvh)
		if err != nil {
			return err
		}
		s.cc.DestroyBuffer(lines)
		printer.Printf("%d box line vertices\n", count)
	}
	return nil
}

// VerifyMesh builds one hierarchy and checks its invariants on the host.
func VerifyMesh(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	bvh, nodes, indices, err := s.readTree(context.Background())
	if err != nil {
		return err
	}
	defer bvh.Release()

	maxLeaf := s.cfg.Build.MaxTrisPerLeaf
	if bvh.Truncated() {
		fmt.Println("tree truncated at the level cap; leaf sizes not checked")
		maxLeaf = 0
	}
	if err := meshbvh.Verify(nodes, indices, s.host.TriangleBounds(), maxLeaf); err != nil {
		return err
	}
	printer.Printf("ok: %d nodes over %d triangles\n", len(nodes), len(indices))
	return nil
}

// BenchMesh repeats a build and prints the accumulated timings.
func BenchMesh(c *cli.Context) error {
	s, err := newSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	runs := c.Int("runs")
	if runs < 1 {
		return fmt.Errorf("runs must be positive, got %d", runs)
	}
	for range runs {
		bvh, err := s.gen.Build(context.Background(), s.mesh)
		if err != nil {
			return err
		}
		bvh.Release()
	}
	writeStats(os.Stdout, s.gen.Stats())
	return nil
}

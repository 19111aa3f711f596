// Command bvhbuild builds, checks and benchmarks mesh BVHs.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

func main() {
	app := newApp()
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "bvhbuild:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	buildFlags := []cli.Flag{
		cli.StringFlag{
			Name:  "strategy, s",
			Usage: "split strategy: fast-trace or fast-build",
		},
		cli.IntFlag{
			Name:  "leaf",
			Usage: "maximum triangles per leaf",
		},
		cli.IntFlag{
			Name:  "candidates",
			Usage: "split planes scored per node (fast-trace)",
		},
		cli.IntFlag{
			Name:  "max-levels",
			Usage: "tree level cap",
		},
	}

	app := cli.NewApp()
	app.Name = "bvhbuild"
	app.Usage = "build bounding volume hierarchies over triangle meshes"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "YAML configuration file",
		},
		cli.StringFlag{
			Name:  "backend, b",
			Usage: "compute backend: cpu or gpu",
		},
		cli.IntFlag{
			Name:  "workers",
			Usage: "cpu backend worker count (0 = GOMAXPROCS)",
		},
		cli.BoolFlag{
			Name:  "spirv",
			Usage: "precompile shaders to SPIR-V (gpu backend)",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "debug, info, warn or error",
		},
		cli.StringFlag{
			Name:  "log-file",
			Usage: "also write logs to this rotating file",
		},
		cli.BoolFlag{
			Name:  "v",
			Usage: "enable debug logging",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:      "build",
			Usage:     "build a hierarchy and print its shape and stage timings",
			ArgsUsage: "MESH",
			Description: `MESH is ` + meshUsage + `

The node and index arrays can be written out in their device layout.`,
			Flags: append([]cli.Flag{
				cli.StringFlag{
					Name:  "nodes",
					Usage: "write the node array to this file",
				},
				cli.StringFlag{
					Name:  "indices",
					Usage: "write the triangle permutation to this file",
				},
				cli.BoolFlag{
					Name:  "lines",
					Usage: "also generate the box wireframe",
				},
			}, buildFlags...),
			Action: BuildMesh,
		},
		{
			Name:        "verify",
			Usage:       "build a hierarchy and check its invariants",
			ArgsUsage:   "MESH",
			Description: `MESH is ` + meshUsage,
			Flags:       buildFlags,
			Action:      VerifyMesh,
		},
		{
			Name:      "bench",
			Usage:     "repeat a build and print accumulated stage timings",
			ArgsUsage: "MESH",
			Flags: append([]cli.Flag{
				cli.IntFlag{
					Name:  "runs, n",
					Value: 10,
					Usage: "number of builds",
				},
			}, buildFlags...),
			Action: BenchMesh,
		},
	}
	return app
}

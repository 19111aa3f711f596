package gpu

import (
	"fmt"

	"github.com/gogpu/naga"

	"github.com/gogpu/meshbvh/compute"
)

// CompileSPIRV compiles WGSL source to SPIR-V words with naga.
func CompileSPIRV(wgsl string) ([]uint32, error) {
	spirv, err := naga.Compile(wgsl)
	if err != nil {
		return nil, fmt.Errorf("compile shader: %w", err)
	}
	return compute.Words(spirv), nil
}

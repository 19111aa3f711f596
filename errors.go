package meshbvh

import "errors"

var (
	// ErrInvalidMesh is returned when mesh counts and buffers disagree.
	ErrInvalidMesh = errors.New("meshbvh: invalid mesh")

	// ErrCapacityExceeded is returned when a level would grow the node
	// array past its 2 * triangle_count capacity.
	ErrCapacityExceeded = errors.New("meshbvh: node capacity exceeded")

	// ErrClosed is returned by a closed Generator.
	ErrClosed = errors.New("meshbvh: generator closed")

	// ErrReleased is returned when reading a released MeshBVH.
	ErrReleased = errors.New("meshbvh: bvh released")
)

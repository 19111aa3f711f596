package compute

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
)

type testBuffer struct {
	size  uint64
	usage gputypes.BufferUsage
}

func (b testBuffer) Label() string                { return "test" }
func (b testBuffer) Size() uint64                 { return b.size }
func (b testBuffer) Usage() gputypes.BufferUsage { return b.usage }

type testPipeline struct{ k *Kernel }

func (p testPipeline) Kernel() *Kernel { return p.k }

func TestCheckRange(t *testing.T) {
	b := testBuffer{size: 16}
	tests := []struct {
		name         string
		offset, size uint64
		want         error
	}{
		{"whole", 0, 16, nil},
		{"tail", 12, 4, nil},
		{"empty at end", 16, 0, nil},
		{"past end", 12, 8, ErrOutOfRange},
		{"offset past end", 20, 0, ErrOutOfRange},
		{"unaligned offset", 2, 4, ErrAlignment},
		{"unaligned size", 0, 6, ErrAlignment},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckRange(b, tt.offset, tt.size)
			if !errors.Is(err, tt.want) {
				t.Errorf("CheckRange(%d, %d) = %v, want %v", tt.offset, tt.size, err, tt.want)
			}
		})
	}
}

func TestDispatchValidate(t *testing.T) {
	k := &Kernel{
		Label:      "k",
		ParamWords: 1,
		Bindings:   []gputypes.BufferBindingType{gputypes.BufferBindingTypeStorage},
	}
	p := testPipeline{k}
	storage := testBuffer{size: 4, usage: gputypes.BufferUsageStorage}
	staging := testBuffer{size: 4, usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst}

	ok := Dispatch{Pipeline: p, Params: []uint32{1}, Buffers: []Buffer{storage}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	ok.Workgroups = [3]uint32{MaxWorkgroupsPerDimension, MaxWorkgroupsPerDimension, 1}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate() at the workgroup limit = %v", err)
	}

	bad := []struct {
		name string
		d    Dispatch
		want error
	}{
		{"params", Dispatch{Pipeline: p, Buffers: []Buffer{storage}}, ErrBindings},
		{"buffers", Dispatch{Pipeline: p, Params: []uint32{1}}, ErrBindings},
		{"usage", Dispatch{Pipeline: p, Params: []uint32{1}, Buffers: []Buffer{staging}}, ErrUsage},
		{"workgroups x", Dispatch{Pipeline: p, Params: []uint32{1}, Buffers: []Buffer{storage},
			Workgroups: [3]uint32{MaxWorkgroupsPerDimension + 1, 1, 1}}, ErrLimits},
		{"workgroups y", Dispatch{Pipeline: p, Params: []uint32{1}, Buffers: []Buffer{storage},
			Workgroups: [3]uint32{1, MaxWorkgroupsPerDimension + 1, 1}}, ErrLimits},
	}
	for _, tt := range bad {
		if err := tt.d.Validate(); !errors.Is(err, tt.want) {
			t.Errorf("%s: Validate() = %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestCopyValidate(t *testing.T) {
	src := testBuffer{size: 8, usage: gputypes.BufferUsageCopySrc}
	dst := testBuffer{size: 8, usage: gputypes.BufferUsageCopyDst}

	if err := (Copy{Src: src, Dst: dst, Size: 8}).Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	if err := (Copy{Src: dst, Dst: dst, Size: 4}).Validate(); !errors.Is(err, ErrUsage) {
		t.Errorf("copy from non-source = %v, want ErrUsage", err)
	}
	if err := (Copy{Src: src, Dst: dst, DstOffset: 4, Size: 8}).Validate(); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("overflowing copy = %v, want ErrOutOfRange", err)
	}
}

func TestWordsRoundTripFloats(t *testing.T) {
	words := []uint32{U32(1.5), U32(-2), 7}
	got := Words(Bytes(words))
	if len(got) != 3 || F32(got[0]) != 1.5 || F32(got[1]) != -2 || got[2] != 7 {
		t.Errorf("Words(Bytes(%v)) = %v", words, got)
	}
	if n := len(Words([]byte{1, 2, 3, 4, 5})); n != 1 {
		t.Errorf("partial word kept: len = %d", n)
	}
}

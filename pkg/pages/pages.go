// Package pages flattens a scatter/gather list into the page sequence plus
// first/last offsets the share engine publishes.
package pages

import "github.com/hyperbridge/dmabridge/pkg/bridgeerr"

// PageSize matches the host's MMU page size for this simulation.
const PageSize = 4096

// PageRef is an opaque reference to one physical page, as produced by the
// host's out-of-scope DMA-buf collaborator.
type PageRef uint64

// Segment is one entry of a scatter/gather list: a run of bytes starting at
// offset within page, of the given length (which may span into following
// pages if length > PageSize-offset).
type Segment struct {
	Page   PageRef
	Offset int
	Length int
}

// Layout is the normalized description of a buffer's backing pages.
type Layout struct {
	Pages       []PageRef
	FirstOffset uint16
	LastLength  uint16
	Nents       uint32
}

// Flatten normalizes sgt into a Layout. Segment lengths are rounded up to
// whole pages except for the very first and very last segment, whose
// partial-page extents become FirstOffset/LastLength.
func Flatten(sgt []Segment) (Layout, error) {
	if len(sgt) == 0 {
		return Layout{}, bridgeerr.New(bridgeerr.BadArg, "empty scatter/gather list")
	}

	var out []PageRef
	firstOffset := uint16(sgt[0].Offset)
	var lastLength uint16

	for i, seg := range sgt {
		if seg.Length <= 0 {
			return Layout{}, bridgeerr.Newf(bridgeerr.BadArg, "segment %d has non-positive length %d", i, seg.Length)
		}
		if seg.Offset < 0 || seg.Offset >= PageSize {
			return Layout{}, bridgeerr.Newf(bridgeerr.BadArg, "segment %d offset %d out of page range", i, seg.Offset)
		}

		remaining := seg.Offset + seg.Length
		npages := (remaining + PageSize - 1) / PageSize
		for p := 0; p < npages; p++ {
			out = append(out, seg.Page+PageRef(p))
		}

		if i == len(sgt)-1 {
			tail := remaining - (npages-1)*PageSize
			lastLength = uint16(tail)
		}
	}

	if int(lastLength) == 0 {
		lastLength = PageSize
	}

	return Layout{
		Pages:       out,
		FirstOffset: firstOffset,
		LastLength:  lastLength,
		Nents:       uint32(len(out)),
	}, nil
}

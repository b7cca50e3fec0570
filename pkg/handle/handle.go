// Package handle mints and recycles the 128-bit buffer handles exported
// buffers are identified by.
package handle

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/hyperbridge/dmabridge/pkg/bridgeerr"
)

// MaxSlots bounds the 24-bit slot space per origin VM.
const MaxSlots = 1000

// replayWindow bounds the TinyLFU cache of recently-retired handles: sized a
// few churns over MaxSlots so a burst of export/unexport cycles doesn't
// evict a handle's replay record before the in-flight stale frame it's
// guarding against has had a chance to arrive.
const replayWindow = 8 * MaxSlots

// Handle is the 128-bit tuple {id, key}. id encodes the
// origin VM in its top 8 bits and a 24-bit slot in the low bits; key is a
// per-mint random nonce. Two handles are equal iff every field matches.
type Handle struct {
	ID  uint32
	Key [3]uint32
}

// Equal reports whether h and o carry the same id and key.
func (h Handle) Equal(o Handle) bool {
	return h.ID == o.ID && h.Key == o.Key
}

// OriginVM reports the VM id that minted h, decoded from ID's top 8 bits.
func (h Handle) OriginVM() uint32 { return vmOf(h.ID) }

// String renders h as "id:key" hex, the same layout internal/logger uses for
// its handle field, so a value copied out of a log line parses right back.
func (h Handle) String() string {
	return fmt.Sprintf("%08x:%08x%08x%08x", h.ID, h.Key[0], h.Key[1], h.Key[2])
}

// ParseString parses the "id:key" hex form String produces, for REST path
// params and CLI arguments that round-trip a handle as text.
func ParseString(s string) (Handle, error) {
	var h Handle
	var keyLo [3]uint32
	n, err := fmt.Sscanf(s, "%08x:%08x%08x%08x", &h.ID, &keyLo[0], &keyLo[1], &keyLo[2])
	if err != nil || n != 4 {
		return Handle{}, bridgeerr.Newf(bridgeerr.BadArg, "malformed handle %q", s)
	}
	h.Key = keyLo
	return h, nil
}

func slotOf(id uint32) uint32   { return id & 0x00FFFFFF }
func vmOf(id uint32) uint32     { return id >> 24 }
func makeID(vm, slot uint32) uint32 { return (vm << 24) | (slot & 0x00FFFFFF) }

// Tag returns a blake2b-128 integrity digest of h, published alongside priv
// in the directory's out-of-band export bootstrap so an importer can detect
// a corrupted handle before using it as a hash-bucket key.
func (h Handle) Tag() [16]byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint32(buf[0:4], h.ID)
	binary.BigEndian.PutUint32(buf[4:8], h.Key[0])
	binary.BigEndian.PutUint32(buf[8:12], h.Key[1])
	binary.BigEndian.PutUint32(buf[12:16], h.Key[2])
	sum := blake2b.Sum256(buf)
	var tag [16]byte
	copy(tag[:], sum[:16])
	return tag
}

// Allocator mints and retires handles for a single origin VM.
type Allocator struct {
	selfVM uint32

	mu       sync.Mutex
	next     uint32   // next never-used slot
	freeList []uint32 // LIFO of retired slots
	used     map[uint32]struct{}

	// replay is a bounded TinyLFU cache recording handles this allocator has
	// retired. A slot is reused and re-minted with a fresh key the moment it
	// is freed, so by the time a stale frame naming the old handle arrives
	// the exported/imported registry entry for it may already be gone, or
	// worse, replaced by an unrelated buffer that happens to share the same
	// id. pkg/registry's Find defeats that second case too (full id+key
	// equality), but it can only do so while some entry for the id still
	// exists; replay gives the inbound EXPORT_FD path a direct answer to
	// "was this exact handle ever retired" that doesn't depend on what, if
	// anything, currently occupies its slot.
	replay *ristretto.Cache[string, struct{}]
}

// NewAllocator constructs an Allocator for the given local VM id.
func NewAllocator(selfVM uint32) *Allocator {
	cache, err := ristretto.NewCache(&ristretto.Config[string, struct{}]{
		NumCounters: 10 * replayWindow,
		MaxCost:     replayWindow,
		BufferItems: 64,
	})
	if err != nil {
		// Config is a handful of constants above; a failure here means the
		// cache itself is misconfigured, not a runtime condition a caller
		// could recover from.
		panic(fmt.Sprintf("handle: replay cache: %v", err))
	}
	return &Allocator{
		selfVM: selfVM,
		used:   make(map[uint32]struct{}),
		replay: cache,
	}
}

// WasRetired reports whether h matches a handle this allocator has retired
// within the replay window. A true result means the caller is looking at a
// stale frame for a buffer that no longer exists under this identity, even
// if the slot has since been recycled for something else entirely.
func (a *Allocator) WasRetired(h Handle) bool {
	_, ok := a.replay.Get(h.String())
	return ok
}

// Close releases the replay cache's background goroutines. Safe to call
// once the allocator is no longer in use.
func (a *Allocator) Close() {
	a.replay.Close()
}

// Mint allocates a fresh handle: a recycled slot if one is free, otherwise
// the next never-used slot, bounded by MaxSlots. The key is drawn from a
// cryptographic RNG on every mint, even for recycled slots.
func (a *Allocator) Mint() (Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var slot uint32
	switch {
	case len(a.freeList) > 0:
		slot = a.freeList[len(a.freeList)-1]
		a.freeList = a.freeList[:len(a.freeList)-1]
	case a.next < MaxSlots:
		slot = a.next
		a.next++
	default:
		return Handle{}, bridgeerr.New(bridgeerr.Exhausted, "handle slot space exhausted")
	}

	key, err := randomKey()
	if err != nil {
		// Roll the slot back so a transient RNG failure doesn't leak it.
		a.freeList = append(a.freeList, slot)
		return Handle{}, bridgeerr.Wrap(bridgeerr.Exhausted, err, "failed to draw handle key")
	}

	a.used[slot] = struct{}{}
	return Handle{ID: makeID(a.selfVM, slot), Key: key}, nil
}

// Retire returns h's slot to the free list and records h in the replay
// window. The caller must guarantee the slot is otherwise unreferenced: no
// live ExportedBuffer may still name it anywhere in the fleet.
func (a *Allocator) Retire(h Handle) {
	a.mu.Lock()
	slot := slotOf(h.ID)
	if _, ok := a.used[slot]; !ok {
		a.mu.Unlock()
		return
	}
	delete(a.used, slot)
	a.freeList = append(a.freeList, slot)
	a.mu.Unlock()

	a.replay.Set(h.String(), struct{}{}, 1)
	a.replay.Wait()
}

// InUse reports the number of currently-minted (not yet retired) slots.
func (a *Allocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.used)
}

func randomKey() ([3]uint32, error) {
	var raw [12]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return [3]uint32{}, err
	}
	return [3]uint32{
		binary.BigEndian.Uint32(raw[0:4]),
		binary.BigEndian.Uint32(raw[4:8]),
		binary.BigEndian.Uint32(raw[8:12]),
	}, nil
}

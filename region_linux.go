//go:build linux

package gvthread

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// bytesAt reinterprets a raw address+length as a []byte, for handing to
// the mprotect/madvise/munmap wrappers in golang.org/x/sys/unix, which
// take []byte rather than a bare pointer.
func bytesAt(addr, length uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), length)
}

// Region reserves a contiguous virtual span of slotSize*maxTasks bytes
// with no access, then grants/revokes access to individual slots on
// demand. It never touches physical memory beyond what activate/
// deactivate ask the kernel for.
//
// Grounded on eventloop/poller_linux.go's direct use of golang.org/x/sys/
// unix for kernel resource lifecycle (there: epoll fds; here: pages).
type Region struct {
	layout   slotLayout
	base     uintptr
	size     uintptr
	maxTasks uint32
}

// NewRegion reserves the region. The reservation itself never fails for
// out-of-memory reasons on Linux (overcommit); it can fail if the
// address space is exhausted or ulimit -v is set aggressively.
func NewRegion(slotSize uintptr, maxTasks uint32) (*Region, error) {
	size := slotSize * uintptr(maxTasks)
	data, err := unix.Mmap(-1, 0, int(size), unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
	if err != nil {
		return nil, &MemoryActivationError{ID: NoTask, Op: "reserve", Cause: err}
	}
	return &Region{
		layout:   newSlotLayout(slotSize),
		base:     uintptr(unsafe.Pointer(&data[0])),
		size:     size,
		maxTasks: maxTasks,
	}, nil
}

// SlotAddr returns the base address of slot id.
func (r *Region) SlotAddr(id TaskID) uintptr {
	if uint32(id) >= r.maxTasks {
		invalidID(id)
	}
	return r.layout.base(r.base, id)
}

// Activate grants read/write access to slot id's stack+metadata range,
// relying on the kernel's demand paging for physical backing. Errors are
// always fatal: an out-of-memory condition on activate is not
// recoverable at this layer.
func (r *Region) Activate(id TaskID) error {
	slotBase := r.SlotAddr(id)
	off, length := r.layout.activeRange()
	buf := bytesAt(slotBase+off, length)
	if err := unix.Mprotect(buf, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return &MemoryActivationError{ID: id, Op: "activate", Cause: err}
	}
	return nil
}

// Deactivate advises the kernel that a finished slot's pages are no
// longer needed, releasing physical memory while keeping the virtual
// reservation, and drops access back to none so a stray use-after-free
// faults immediately instead of reading stale data.
func (r *Region) Deactivate(id TaskID) error {
	slotBase := r.SlotAddr(id)
	off, length := r.layout.activeRange()
	buf := bytesAt(slotBase+off, length)
	if err := unix.Madvise(buf, unix.MADV_DONTNEED); err != nil {
		return &MemoryActivationError{ID: id, Op: "deactivate", Cause: err}
	}
	if err := unix.Mprotect(buf, unix.PROT_NONE); err != nil {
		return &MemoryActivationError{ID: id, Op: "deactivate-protect", Cause: err}
	}
	return nil
}

// Close releases the entire reservation. Only safe once every slot has
// been deactivated (or was never activated).
func (r *Region) Close() error {
	buf := bytesAt(r.base, r.size)
	if err := unix.Munmap(buf); err != nil {
		return fmt.Errorf("gvthread: munmap region: %w", err)
	}
	return nil
}

// StackBounds returns the [low, high) stack range for slot id, used to
// prime a fresh task's initial stack pointer and to publish the task's
// stack bounds to the Go runtime on each switch.
func (r *Region) StackBounds(id TaskID) (lo, hi uintptr) {
	slotBase := r.SlotAddr(id)
	return slotBase + r.layout.stackLow(), slotBase + r.layout.stackHigh()
}

// MetaAddr returns the address of the metadata page for slot id. The
// runtime does not currently place taskMeta in-slot (it is a normal Go
// heap object referenced from the slot table); the address is retained
// for layout parity and for future use by out-of-process debug tooling.
func (r *Region) MetaAddr(id TaskID) uintptr {
	return r.SlotAddr(id) + r.layout.metaOffset()
}

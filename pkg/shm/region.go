// Package shm implements the process-shared memory region that is the
// kernel's single source of truth: the cache-line-aligned layout from
// layout.go, mapped MAP_SHARED by every participant, synchronized with the
// futex-based Mutex/Cond in futex_linux.go (spec §3, §4.1, §9).
package shm

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/cuemby/postoffice/pkg/types"
	"golang.org/x/sys/unix"
)

// Region is one participant's mapping of the shared memory segment.
type Region struct {
	data    []byte
	hdr     *Header
	path    string
	fd      int
	owner   bool // true for the Director, which created and must destroy it
	workers int
}

const createRetries = 4

// Create allocates a fresh region sized for params.NWorkers worker records,
// unlinking any stale region left behind by a previous partial-failure run
// first (spec §3 lifecycle, §4.1 creation policy).
func Create(path string, params types.Params) (*Region, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("shm: invalid params: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < createRetries; attempt++ {
		_ = os.Remove(path) // unlink any stale region with the same name

		fd, err := unix.Open(path, unix.O_CREAT|unix.O_EXCL|unix.O_RDWR, 0o600)
		if err != nil {
			lastErr = fmt.Errorf("shm: name collision that cannot be resolved by unlink: %w", err)
			continue
		}

		size := RegionSize(params.NWorkers)
		if err := unix.Ftruncate(fd, size); err != nil {
			unix.Close(fd)
			os.Remove(path)
			return nil, fmt.Errorf("shm: out of memory sizing region to %d bytes: %w", size, err)
		}

		data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			unix.Close(fd)
			os.Remove(path)
			return nil, fmt.Errorf("shm: primitives cannot be initialized, mmap failed: %w", err)
		}

		for i := range data {
			data[i] = 0
		}

		r := &Region{data: data, hdr: (*Header)(unsafe.Pointer(&data[0])), path: path, fd: fd, owner: true, workers: params.NWorkers}
		r.hdr.Params.NWorkers = int32(params.NWorkers)
		r.hdr.Params.NumServiceTypes = int32(params.NumServiceTypes)
		r.hdr.Params.SimDurationDays = int32(params.SimDurationDays)
		r.hdr.Params.ExplodeThreshold = int32(params.ExplodeThreshold)
		r.hdr.Params.TickNanos = params.TickNanos
		if params.IsHeadless {
			r.hdr.Params.IsHeadless = 1
		}
		return r, nil
	}
	return nil, fmt.Errorf("shm: failed to create region after %d attempts: %w", createRetries, lastErr)
}

// Attach maps an existing region created by the Director. It first maps
// just the header to learn params.NWorkers, then unmaps that probe and
// maps the full size (spec §4.1 attach policy).
func Attach(path string) (*Region, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("shm: attach failed to open %q: %w", path, err)
	}

	headerData, err := unix.Mmap(fd, 0, int(headerSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("shm: attach failed to map header: %w", err)
	}
	hdr := (*Header)(unsafe.Pointer(&headerData[0]))
	nWorkers := int(hdr.Params.NWorkers)
	fullSize := RegionSize(nWorkers)

	if err := unix.Munmap(headerData); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("shm: attach failed to unmap probe header: %w", err)
	}

	data, err := unix.Mmap(fd, 0, int(fullSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("shm: attach failed to map full region (%d bytes): %w", fullSize, err)
	}

	return &Region{data: data, hdr: (*Header)(unsafe.Pointer(&data[0])), path: path, fd: fd, owner: false, workers: nWorkers}, nil
}

// Detach unmaps the region. Every participant except the Director calls
// this on exit; the Director calls it as part of Destroy.
func (r *Region) Detach() error {
	if r.data == nil {
		return nil
	}
	if err := unix.Munmap(r.data); err != nil {
		return fmt.Errorf("shm: detach failed to munmap: %w", err)
	}
	if err := unix.Close(r.fd); err != nil {
		return fmt.Errorf("shm: detach failed to close backing fd: %w", err)
	}
	r.data = nil
	return nil
}

// Destroy detaches and unlinks the backing region. Only the Director
// (owner) should call this, after every other participant has detached.
func (r *Region) Destroy() error {
	if !r.owner {
		return fmt.Errorf("shm: destroy called by a non-owner participant")
	}
	if err := r.Detach(); err != nil {
		return err
	}
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("shm: destroy failed to unlink %q: %w", r.path, err)
	}
	return nil
}

// NWorkers returns the worker-record count this mapping was sized for.
func (r *Region) NWorkers() int { return r.workers }

// Params returns the immutable simulation parameters.
func (r *Region) Params() types.Params {
	p := r.hdr.Params
	return types.Params{
		NWorkers:         int(p.NWorkers),
		NumServiceTypes:  int(p.NumServiceTypes),
		SimDurationDays:  int(p.SimDurationDays),
		TickNanos:        p.TickNanos,
		ExplodeThreshold: int(p.ExplodeThreshold),
		IsHeadless:       p.IsHeadless != 0,
	}
}

// Header exposes the raw fixed header block for packages (clock, barrier,
// queue, worker) that know how to use its atomics and futex words
// directly; kept unexported-ish by convention (callers should prefer the
// accessor packages) but not hidden, since director/worker/user/issuer are
// all part of the same module and need direct field access.
func (r *Region) Hdr() *Header { return r.hdr }

// Worker returns a pointer to worker record i, i in [0, NWorkers).
func (r *Region) Worker(i int) *WorkerRecord {
	if i < 0 || i >= r.workers {
		panic(fmt.Sprintf("shm: worker index %d out of range [0,%d)", i, r.workers))
	}
	base := uintptr(unsafe.Pointer(&r.data[0])) + headerSize + uintptr(i)*workerRecordSize
	return (*WorkerRecord)(unsafe.Pointer(base))
}

// Queue returns a pointer to queue block s, s in [0, NumServiceTypes).
func (r *Region) Queue(s int) *QueueBlock {
	if s < 0 || s >= types.MaxServiceTypes {
		panic(fmt.Sprintf("shm: service type index %d out of range [0,%d)", s, types.MaxServiceTypes))
	}
	return &r.hdr.Queues[s]
}

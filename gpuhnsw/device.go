// Package gpuhnsw wraps a GPU-resident variant of the HNSW graph behind a
// dynamically loaded C ABI, using purego so the rest of the module never
// needs cgo. Graph construction always happens on the CPU (hnsw.Graph);
// this package only uploads the finished arena to device memory and
// dispatches searches against it, falling back to the CPU graph whenever
// the device library is missing or a call fails.
package gpuhnsw

import (
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/liliang-cn/vectra/errs"
)

// entry points the device library must export.
const (
	symInit         = "vx_gpu_init"
	symUpload       = "vx_gpu_upload"
	symSearch       = "vx_gpu_search"
	symInsertKernel = "vx_gpu_insert_kernel"
	symFree         = "vx_gpu_free"
)

// Device is a loaded GPU compute library bound to the five entry points
// above. A Device is safe for concurrent Search calls; Upload/Close are
// expected to be serialized by the caller (Index already does this).
type Device struct {
	handle uintptr

	init         func(ceilingBytes uint64) int32
	upload       func(ctxID int32, nodeCount int32, vecPtr unsafe.Pointer, dim int32, connPtr unsafe.Pointer, connCount int32, nodeLevels unsafe.Pointer) int32
	search       func(ctxID int32, queryPtr unsafe.Pointer, dim int32, k int32, efSearch int32, outIDs unsafe.Pointer, outDist unsafe.Pointer) int32
	insertKernel func(ctxID int32, vecPtr unsafe.Pointer, dim int32, connPtr unsafe.Pointer, connCount int32) int32
	free         func(ctxID int32) int32

	ctxID int32
}

// Open dlopens libPath and resolves all five entry points. Any failure is
// reported as *errs.GpuUnavailable so callers can fall back to the CPU
// graph instead of failing outright.
func Open(libPath string) (*Device, error) {
	lib, err := purego.Dlopen(libPath, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, &errs.GpuUnavailable{Reason: "dlopen " + libPath + ": " + err.Error()}
	}

	d := &Device{handle: lib}
	if err := d.bind(); err != nil {
		purego.Dlclose(lib)
		return nil, err
	}
	return d, nil
}

func (d *Device) bind() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &errs.GpuUnavailable{Reason: "missing device symbol"}
		}
	}()
	purego.RegisterLibFunc(&d.init, d.handle, symInit)
	purego.RegisterLibFunc(&d.upload, d.handle, symUpload)
	purego.RegisterLibFunc(&d.search, d.handle, symSearch)
	purego.RegisterLibFunc(&d.insertKernel, d.handle, symInsertKernel)
	purego.RegisterLibFunc(&d.free, d.handle, symFree)
	return nil
}

// Init reserves a device context with the given VRAM ceiling.
func (d *Device) Init(ceilingBytes uint64) error {
	id := d.init(ceilingBytes)
	if id < 0 {
		return &errs.GpuMemoryExhausted{CeilingBytes: ceilingBytes}
	}
	d.ctxID = id
	return nil
}

// Close releases the device context and closes the library.
func (d *Device) Close() error {
	if d.free != nil {
		d.free(d.ctxID)
	}
	return purego.Dlclose(d.handle)
}

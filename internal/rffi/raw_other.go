//go:build !unix

package rffi

// heapAllocator 没有 mmap 的平台退回 Go 堆
type heapAllocator struct{}

func defaultAllocator() allocator { return heapAllocator{} }

func (heapAllocator) alloc(n int) ([]byte, error) { return make([]byte, n), nil }

func (heapAllocator) free([]byte) error { return nil }

//go:build unix

package rffi

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// mmapAllocator 匿名映射；释放后访问会直接出错而不是读到旧数据
type mmapAllocator struct {
	pageSize int
}

func defaultAllocator() allocator { return &mmapAllocator{pageSize: unix.Getpagesize()} }

func (m *mmapAllocator) alloc(n int) ([]byte, error) {
	size := ((n + m.pageSize - 1) / m.pageSize) * m.pageSize
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", size, err)
	}
	return mem, nil
}

func (m *mmapAllocator) free(b []byte) error {
	if err := unix.Munmap(b); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	return nil
}

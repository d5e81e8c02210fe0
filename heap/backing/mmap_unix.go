//go:build unix

package backing

import (
	"golang.org/x/sys/unix"
)

func mapAnonymous(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func mapFile(fd uintptr, size int) ([]byte, error) {
	return unix.Mmap(int(fd), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

// syncRange msyncs the pages covering [offset, offset+size). msync requires a page-aligned start.
func syncRange(data []byte, offset, size int) error {
	pageSize := unix.Getpagesize()
	start := offset - offset%pageSize
	return unix.Msync(data[start:offset+size], unix.MS_SYNC)
}

func unmap(data []byte) error {
	return unix.Munmap(data)
}

//go:build !unix

package backing

func mapAnonymous(size int) ([]byte, error) {
	return nil, ErrMappingNotSupported
}

func mapFile(fd uintptr, size int) ([]byte, error) {
	return nil, ErrMappingNotSupported
}

func syncRange(data []byte, offset, size int) error {
	return ErrMappingNotSupported
}

func unmap(data []byte) error {
	return nil
}

//go:build android

// Shared loading helpers for the NDK bindings.

package mediakit

import (
	"os"
	"path/filepath"

	"github.com/ebitengine/purego"
	"github.com/pkg/errors"
)

// libPaths lists the candidates for a system library, honoring the
// MEDIAKIT_NDK_LIB_PATH override directory first.
func libPaths(libName string) []string {
	var paths []string
	if dir := os.Getenv("MEDIAKIT_NDK_LIB_PATH"); dir != "" {
		paths = append(paths, filepath.Join(dir, libName))
	}
	if exe, err := os.Executable(); err == nil {
		paths = append(paths, filepath.Join(filepath.Dir(exe), libName))
	}
	paths = append(paths,
		libName, // Linker namespace lookup
		filepath.Join("/system/lib64", libName),
		filepath.Join("/system/lib", libName),
	)
	return paths
}

// dlopenFirst opens the first loadable candidate of libName.
func dlopenFirst(libName string) (uintptr, error) {
	var lastErr error
	for _, path := range libPaths(libName) {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			return handle, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no candidate paths")
	}
	return 0, errors.Wrapf(lastErr, "failed to load %s", libName)
}

// registerLibFuncs binds every named symbol of handle, turning a missing
// symbol into an error instead of a panic.
func registerLibFuncs(handle uintptr, funcs map[string]any) error {
	for name, fptr := range funcs {
		if _, serr := purego.Dlsym(handle, name); serr != nil {
			return errors.Wrapf(serr, "missing symbol %s", name)
		}
		purego.RegisterLibFunc(fptr, handle, name)
	}
	return nil
}

// cStringPtr returns a NUL terminated copy of s and a pointer to it. The
// slice must stay referenced for as long as the pointer is used.
func cStringPtr(s string) ([]byte, *byte) {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return b, &b[0]
}

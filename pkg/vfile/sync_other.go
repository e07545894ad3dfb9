//go:build !linux

package vfile

import "os"

func fdatasync(f *os.File) error {
	return f.Sync()
}

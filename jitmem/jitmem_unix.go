//go:build linux || darwin || freebsd

// Package jitmem manages executable memory for jitted code: anonymous
// pages mapped writable, flipped to executable once the code is in place.
package jitmem

import (
	"golang.org/x/sys/unix"
	"tlog.app/go/errors"
)

// Alloc maps length bytes of anonymous read-write memory, rounded up to
// the page size.
func Alloc(length int) ([]byte, error) {
	if length <= 0 {
		return nil, errors.New("bad length %d", length)
	}

	page := unix.Getpagesize()
	length = (length + page - 1) &^ (page - 1)

	b, err := unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrap(err, "mmap")
	}

	return b, nil
}

// Exec seals the mapping: no more writes, execution allowed.
func Exec(b []byte) error {
	err := unix.Mprotect(b, unix.PROT_READ|unix.PROT_EXEC)
	if err != nil {
		return errors.Wrap(err, "mprotect")
	}

	return nil
}

// Writable flips the mapping back to read-write for patching.
func Writable(b []byte) error {
	err := unix.Mprotect(b, unix.PROT_READ|unix.PROT_WRITE)
	if err != nil {
		return errors.Wrap(err, "mprotect")
	}

	return nil
}

// Release unmaps memory obtained from Alloc.
func Release(b []byte) error {
	err := unix.Munmap(b)
	if err != nil {
		return errors.Wrap(err, "munmap")
	}

	return nil
}

//go:build !linux && !darwin && !freebsd

package jitmem

import (
	"tlog.app/go/errors"
)

// ErrUnsupported is returned on hosts without executable-memory support.
var ErrUnsupported = errors.New("executable memory not supported")

func Alloc(length int) ([]byte, error) { return nil, ErrUnsupported }

func Exec(b []byte) error { return ErrUnsupported }

func Writable(b []byte) error { return ErrUnsupported }

func Release(b []byte) error { return ErrUnsupported }

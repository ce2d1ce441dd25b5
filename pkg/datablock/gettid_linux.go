//go:build linux

package datablock

import "golang.org/x/sys/unix"

func osGettid() int {
	return unix.Gettid()
}

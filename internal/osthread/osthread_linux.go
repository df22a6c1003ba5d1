//go:build linux

package osthread

import "golang.org/x/sys/unix"

func currentID() int {
	return unix.Gettid()
}

func setPriority(p Priority) error {
	return unix.Setpriority(unix.PRIO_PROCESS, unix.Gettid(), int(p))
}

package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// sessionFromControllingTTY derives this shell's session id from its
// controlling terminal when $__history_session was not exported by
// the shell integration (SPEC_FULL part D.3): stdin resolves to
// /dev/pts/N on any pty-attached shell, and N is the same pts number
// the prompt hook uses as its session id.
func sessionFromControllingTTY() (int, error) {
	link, err := os.Readlink("/proc/self/fd/0")
	if err != nil {
		return 0, fmt.Errorf("resolve controlling terminal: %w", err)
	}

	const prefix = "/dev/pts/"
	if !strings.HasPrefix(link, prefix) {
		return 0, fmt.Errorf("controlling terminal %q is not a pts device", link)
	}

	return strconv.Atoi(strings.TrimPrefix(link, prefix))
}

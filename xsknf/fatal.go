//go:build linux

package xsknf

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
)

// fatal mirrors xsknf.c's __exit_with_error: log the failure with its call
// site, release every kernel resource the Framework holds, then terminate
// the process. It is called from worker goroutines, which have no caller
// to return an error to: a failed CPU pinning, poll() or kicking syscall
// there indicates a programming or environment error, not a transient
// condition to retry around. Setup errors in Init are returned instead.
func (fw *Framework) fatal(err error) {
	_, file, line, _ := runtime.Caller(1)
	slog.Error("xsknf: fatal error", "err", err, "at", fmt.Sprintf("%s:%d", file, line))
	if cerr := fw.Cleanup(); cerr != nil {
		slog.Error("xsknf: cleanup after fatal error also failed", "err", cerr)
	}
	os.Exit(1)
}

func (fw *Framework) fatalf(format string, args ...any) {
	fw.fatal(fmt.Errorf(format, args...))
}

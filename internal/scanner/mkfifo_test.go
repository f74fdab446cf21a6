package scanner

import "syscall"

// syscallMkfifo creates a FIFO special file for TestScanSkipsNonRegularFiles.
func syscallMkfifo(path string) error {
	return syscall.Mkfifo(path, 0o644)
}

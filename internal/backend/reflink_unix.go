//go:build unix

package backend

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// reflinkSupported probes root by issuing a throw-away FICLONE against a
// scratch file, per spec.md §4.3: "a throw-away test file" at store-open
// time.
func reflinkSupported(root string) bool {
	probeDir := root + "/.reflink_probe"
	_ = os.RemoveAll(probeDir)
	if err := os.MkdirAll(probeDir, 0o755); err != nil {
		return false
	}
	defer func() { _ = os.RemoveAll(probeDir) }()

	src := probeDir + "/source"
	dst := probeDir + "/dest"
	if err := os.WriteFile(src, []byte("nexispm reflink probe"), 0o644); err != nil {
		return false
	}

	err := reflinkFile(src, dst)
	return err == nil
}

// reflinkFile requests copy-on-write block sharing via the FICLONE ioctl.
func reflinkFile(source, destination string) error {
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	tmp := destination + ".nexispm.tmp"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if err := unix.IoctlFileClone(int(out.Fd()), int(in.Fd())); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, destination); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// linkCountOK reports whether source's current hardlink count leaves room
// under ceiling for one more link.
func linkCountOK(source string, ceiling int) bool {
	info, err := os.Stat(source)
	if err != nil {
		return false
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return false
	}
	return int(stat.Nlink)+1 <= ceiling
}

package bootloader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGRUBWriterWritesMenuEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grub.cfg")
	w := NewGRUBWriter(path)

	err := w.Write([]BootloaderEntry{
		{GenerationID: 2, Label: "nexispm generation 2", KernelPath: "/boot/vmlinuz-2", InitrdPath: "/boot/initrd-2", Cmdline: "ro quiet"},
		{GenerationID: 1, Label: "nexispm generation 1", KernelPath: "/boot/vmlinuz-1", Cmdline: "ro"},
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	require.Contains(t, content, `menuentry "nexispm generation 2"`)
	require.Contains(t, content, "/boot/vmlinuz-2")
	require.Contains(t, content, "initrd /boot/initrd-2")
	require.Contains(t, content, `menuentry "nexispm generation 1"`)
	require.NotContains(t, content, "initrd \n")
}

func TestGRUBWriterIsAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grub.cfg")
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o644))

	w := NewGRUBWriter(path)
	require.NoError(t, w.Write(nil))

	_, err := os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err), "tmp file must not survive a successful write")
}

// Package bootloader implements the bootloader sink interface from
// spec.md §6: a sink accepting a list of bootloader entries and writing a
// configuration file the bootloader reads, called once per activation
// after "current" is atomically updated.
package bootloader

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/nexis-project/nexispm/internal/types"
)

// BootloaderEntry is the wire shape of one menu entry written by a Sink.
type BootloaderEntry struct {
	GenerationID uint64
	Label        string
	KernelPath   string
	InitrdPath   string
	Cmdline      string
}

// Sink writes a set of bootloader entries to whatever configuration file
// the bootloader reads. internal/generation.GenerationManager calls this
// once per Activate, after the current symlink has been atomically
// retargeted.
type Sink interface {
	Write(entries []BootloaderEntry) error
}

// GRUBWriter renders a grub.cfg-style menu snippet listing one "menuentry"
// block per entry, in the order the entries are given (GenerationManager
// passes them most recent first), and writes it atomically
// (tmp-file plus rename) to Path.
type GRUBWriter struct {
	Path string
}

// NewGRUBWriter constructs a GRUBWriter targeting path.
func NewGRUBWriter(path string) *GRUBWriter {
	return &GRUBWriter{Path: path}
}

// Write implements Sink.
func (w *GRUBWriter) Write(entries []BootloaderEntry) error {
	var b strings.Builder
	b.WriteString("# Generated by nexispm — do not edit by hand.\n\n")
	for _, e := range entries {
		writeMenuEntry(&b, e)
	}

	tmp := w.Path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write grub snippet: %w", err)
	}
	if err := os.Rename(tmp, w.Path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("install grub snippet: %w", err)
	}
	return nil
}

func writeMenuEntry(w io.StringWriter, e BootloaderEntry) {
	_, _ = w.WriteString(fmt.Sprintf("menuentry %q {\n", e.Label))
	_, _ = w.WriteString(fmt.Sprintf("    linux %s %s\n", e.KernelPath, e.Cmdline))
	if e.InitrdPath != "" {
		_, _ = w.WriteString(fmt.Sprintf("    initrd %s\n", e.InitrdPath))
	}
	_, _ = w.WriteString("}\n\n")
}

// EntriesForGenerations builds BootloaderEntry values from GenerationRecords
// without this package needing to know how internal/generation labels a
// generation or locates its kernel/initrd.
func EntriesForGenerations(records []types.GenerationRecord, labelFor func(types.GenerationRecord) string, kernelFor func(types.GenerationRecord) (kernel, initrd, cmdline string)) []BootloaderEntry {
	out := make([]BootloaderEntry, 0, len(records))
	for _, rec := range records {
		kernel, initrd, cmdline := kernelFor(rec)
		out = append(out, BootloaderEntry{
			GenerationID: rec.ID,
			Label:        labelFor(rec),
			KernelPath:   kernel,
			InitrdPath:   initrd,
			Cmdline:      cmdline,
		})
	}
	return out
}

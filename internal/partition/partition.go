// Package partition provides a file backed A/B slot partition writer.
//
// A partition directory holds one image file per slot and a boot file naming
// the slot the device boots from:
//
//	<dir>/slot_a.bin
//	<dir>/slot_b.bin
//	<dir>/boot
//
// Images are staged next to the spare slot and only replace it on commit.
// The boot file is rewritten last, so an interrupted update always leaves
// the previously active slot bootable.
package partition

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/airgradient/otaengine/api/ota"
)

const (
	SlotA = "a"
	SlotB = "b"

	bootFile = "boot"
)

var (
	// ErrNoSparePartition indicates the partition directory is not usable
	ErrNoSparePartition = errors.New("spare partition not found")

	// ErrInvalidHandle indicates an unknown or already closed handle
	ErrInvalidHandle = errors.New("invalid partition handle")

	// ErrPartitionFull indicates an image larger than the slot
	ErrPartitionFull = errors.New("image exceeds partition size")

	// ErrInvalidImage indicates a commit of an empty image
	ErrInvalidImage = errors.New("image invalid")
)

type (
	// FileWriter implements ota.PartitionWriter on a directory.
	FileWriter struct {
		dir      string
		capacity int64

		next ota.Handle
		open map[ota.Handle]*staging
	}

	staging struct {
		slot    string
		f       *os.File
		written int64
	}
)

var _ ota.PartitionWriter = (*FileWriter)(nil)

// NewFileWriter returns a writer on dir. A capacity <= 0 means unlimited.
func NewFileWriter(dir string, capacity int64) *FileWriter {
	return &FileWriter{
		dir:      dir,
		capacity: capacity,
		open:     make(map[ota.Handle]*staging),
	}
}

// ActiveSlot returns the slot the device boots from, SlotA if never switched.
func (w *FileWriter) ActiveSlot() string {
	data, err := os.ReadFile(filepath.Join(w.dir, bootFile))
	if err != nil {
		return SlotA
	}
	if strings.TrimSpace(string(data)) == SlotB {
		return SlotB
	}
	return SlotA
}

// SpareSlot returns the slot the next image is written to.
func (w *FileWriter) SpareSlot() string {
	if w.ActiveSlot() == SlotA {
		return SlotB
	}
	return SlotA
}

// SlotPath returns the image file of slot.
func (w *FileWriter) SlotPath(slot string) string {
	return filepath.Join(w.dir, fmt.Sprintf("slot_%s.bin", slot))
}

func (w *FileWriter) stagingPath(slot string) string {
	return filepath.Join(w.dir, fmt.Sprintf(".slot_%s.bin.partial", slot))
}

func (w *FileWriter) Begin() (ota.Handle, error) {
	fi, err := os.Stat(w.dir)
	if err != nil || !fi.IsDir() {
		return 0, fmt.Errorf("%w: %s", ErrNoSparePartition, w.dir)
	}

	slot := w.SpareSlot()
	for _, s := range w.open {
		if s.slot == slot {
			return 0, fmt.Errorf("slot %s is already being written", slot)
		}
	}

	f, err := os.OpenFile(w.stagingPath(slot), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return 0, err
	}

	w.next++
	w.open[w.next] = &staging{slot: slot, f: f}

	log.Debug().Str("slot", slot).Uint32("handle", uint32(w.next)).Msg("partition write started")
	return w.next, nil
}

func (w *FileWriter) Write(h ota.Handle, p []byte) error {
	s, ok := w.open[h]
	if !ok {
		return ErrInvalidHandle
	}
	if w.capacity > 0 && s.written+int64(len(p)) > w.capacity {
		return ErrPartitionFull
	}

	n, err := s.f.Write(p)
	s.written += int64(n)
	return err
}

func (w *FileWriter) Commit(h ota.Handle) error {
	s, ok := w.open[h]
	if !ok {
		return ErrInvalidHandle
	}
	delete(w.open, h)

	if err := w.finalize(s); err != nil {
		os.Remove(s.f.Name())
		return err
	}

	if err := w.setActiveSlot(s.slot); err != nil {
		return fmt.Errorf("set boot slot %s: %w", s.slot, err)
	}

	log.Info().Str("slot", s.slot).Int64("size", s.written).Msg("boot slot switched")
	return nil
}

func (w *FileWriter) Abandon(h ota.Handle) {
	s, ok := w.open[h]
	if !ok {
		return
	}
	delete(w.open, h)

	s.f.Close()
	os.Remove(s.f.Name())
}

func (w *FileWriter) finalize(s *staging) error {
	if err := s.f.Sync(); err != nil {
		s.f.Close()
		return err
	}
	if err := s.f.Close(); err != nil {
		return err
	}
	if s.written == 0 {
		return ErrInvalidImage
	}
	return os.Rename(s.f.Name(), w.SlotPath(s.slot))
}

func (w *FileWriter) setActiveSlot(slot string) error {
	tmp := filepath.Join(w.dir, "."+bootFile+".tmp")
	if err := os.WriteFile(tmp, []byte(slot+"\n"), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(w.dir, bootFile))
}

// © Copyright 2026, PhotonBench Instruments - https://photonbench.dev
// SPDX-License-Identifier: Apache-2.0

package timetag

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// FileWriter streams the raw tags of selected channels to a zstd-compressed
// dump file. Each record is 12 bytes: little-endian int64 timestamp followed
// by int32 channel.
type FileWriter struct {
	measurement
	channels map[int32]struct{}
	path     string

	file    *os.File
	enc     *zstd.Encoder
	buf     [12]byte
	total   int64
	closed  bool
	ioError error
}

// NewFileWriter opens path for writing and attaches to the tagger's stream.
// It records immediately.
func NewFileWriter(t *Tagger, path string, channels []int32) (*FileWriter, error) {
	if len(channels) == 0 {
		return nil, Errorf(CodeInvalidArg, "at least one channel required")
	}
	t.mu.Lock()
	for _, ch := range channels {
		if err := t.checkChannel(ch); err != nil {
			t.mu.Unlock()
			return nil, err
		}
	}
	t.mu.Unlock()

	f, err := os.Create(path)
	if err != nil {
		return nil, Errorf(CodeIO, "creating dump file: %v", err)
	}
	enc, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return nil, Errorf(CodeIO, "initializing compressor: %v", err)
	}

	w := &FileWriter{
		channels: make(map[int32]struct{}, len(channels)),
		path:     path,
		file:     f,
		enc:      enc,
	}
	for _, ch := range channels {
		w.channels[ch] = struct{}{}
	}
	w.init(t, nil) // tags already on disk cannot be cleared
	t.attach(w)
	return w, nil
}

func (w *FileWriter) process(tags []Tag) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.ioError != nil {
		return
	}
	for _, tag := range w.gateLocked(tags) {
		if _, ok := w.channels[tag.Channel]; !ok {
			continue
		}
		binary.LittleEndian.PutUint64(w.buf[0:8], uint64(tag.Time))
		binary.LittleEndian.PutUint32(w.buf[8:12], uint32(tag.Channel))
		if _, err := w.enc.Write(w.buf[:]); err != nil {
			w.ioError = Errorf(CodeIO, "writing dump file: %v", err)
			return
		}
		w.total++
	}
}

// Total returns the number of tags written so far.
func (w *FileWriter) Total() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.total
}

// Path returns the dump file path.
func (w *FileWriter) Path() string { return w.path }

// Err returns the first write error, if any. Write errors stop recording but
// do not fail the measurement's control calls.
func (w *FileWriter) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ioError
}

// Close detaches from the tagger and flushes and closes the dump file.
func (w *FileWriter) Close() error {
	w.detach(w)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	encErr := w.enc.Close()
	fileErr := w.file.Close()
	if w.ioError != nil {
		return w.ioError
	}
	if encErr != nil {
		return Errorf(CodeIO, "flushing dump file: %v", encErr)
	}
	if fileErr != nil {
		return Errorf(CodeIO, "closing dump file: %v", fileErr)
	}
	return nil
}

// ReadDump decodes a dump file back into tags. Intended for offline
// analysis and tests.
func ReadDump(path string) ([]Tag, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Errorf(CodeIO, "opening dump file: %v", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, Errorf(CodeIO, "initializing decompressor: %v", err)
	}
	defer dec.Close()

	var tags []Tag
	var buf [12]byte
	for {
		if _, err := io.ReadFull(dec, buf[:]); err != nil {
			break
		}
		tags = append(tags, Tag{
			Time:    int64(binary.LittleEndian.Uint64(buf[0:8])),
			Channel: int32(binary.LittleEndian.Uint32(buf[8:12])),
		})
	}
	return tags, nil
}

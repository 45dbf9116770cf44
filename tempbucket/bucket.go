// Copyright 2024 The Fred Authors
// This file is part of Fred.
//
// Fred is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Fred is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Fred. If not, see <http://www.gnu.org/licenses/>.

package tempbucket

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/Pascal666/fred/log"
)

type backingKind int

const (
	backingMem backingKind = iota
	backingFile
)

var (
	// ErrWriterOpen is returned by OpenWrite when a writer is already live.
	ErrWriterOpen = errors.New("tempbucket: writer already open")
	// ErrClosed is returned by operations on a freed bucket.
	ErrClosed = errors.New("tempbucket: bucket is closed")
)

// Bucket is a unit of transient byte storage. At most one writer may be
// open at a time; any number of readers may be open, each tracking its own
// logical offset and rebinding transparently across a migration.
type Bucket struct {
	pool *Pool
	id   uint64
	log  *log.Logger

	mu         sync.Mutex
	backing    backingKind
	size       int64
	created    time.Time
	generation uint64
	writerOpen bool
	closed     bool

	file *os.File // nil unless backingFile
	enc  *encState // non-nil iff pool.cfg.ReallyEncrypt and backingFile
}

func (b *Bucket) createdAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.created
}

// Size returns the current logical length of the bucket.
func (b *Bucket) Size() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// IsFileBacked reports whether the bucket currently lives on disk.
func (b *Bucket) IsFileBacked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.backing == backingFile
}

func (b *Bucket) ramKey() []byte {
	return []byte(fmt.Sprintf("tb:%d", b.id))
}

func (b *Bucket) initFile() error {
	path := b.pool.newFilePath(b.id)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("tempbucket: create backing file: %w", err)
	}
	b.backing = backingFile
	b.file = f
	if b.pool.cfg.ReallyEncrypt {
		enc, err := newEncState()
		if err != nil {
			f.Close()
			os.Remove(path)
			return err
		}
		b.enc = enc
	}
	return nil
}

// migrateToFile moves a RAM-backed bucket's contents to disk. Used by the
// asynchronous age sweep; the synchronous write-path check calls
// migrateToFileLocked directly since it already holds b.mu.
func (b *Bucket) migrateToFile() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.backing != backingMem {
		return nil // already file-backed: migrating is a no-op (§8 idempotence)
	}
	if err := b.migrateToFileLocked(); err != nil {
		return err
	}
	migrationsAsync.Inc(1)
	return nil
}

// Free releases the bucket. RAM share is returned to the pool counter;
// file-backed buckets are deleted from disk.
func (b *Bucket) Free() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	switch b.backing {
	case backingMem:
		b.pool.ramCache.Del(b.ramKey())
		b.pool.untrackRAM(b.id)
		b.pool.adjustRAM(-b.size)
	case backingFile:
		if b.file != nil {
			name := b.file.Name()
			b.file.Close()
			os.Remove(name)
		}
	}
}

// --- writer ---

// Writer is the single permitted write handle on a Bucket.
type Writer struct {
	b *Bucket
}

// OpenWrite returns the bucket's write handle. A second concurrent call
// fails with ErrWriterOpen (testable property 6).
func (b *Bucket) OpenWrite() (*Writer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if b.writerOpen {
		return nil, ErrWriterOpen
	}
	b.writerOpen = true
	return &Writer{b: b}, nil
}

// Write appends p to the bucket, migrating synchronously to disk first if
// the resulting size would cross the configured RAM thresholds (§4.4).
func (w *Writer) Write(p []byte) (int, error) {
	b := w.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrClosed
	}
	future := b.size + int64(len(p))

	if b.backing == backingMem {
		cfg := b.pool.cfg
		b.pool.mu.Lock()
		overBudget := future-b.size+b.pool.bytesInUse > cfg.MaxRAMUsed
		b.pool.mu.Unlock()
		if future > cfg.MaxRAMBucketSize*cfg.ConversionFactor || overBudget {
			if err := b.migrateToFileLocked(); err != nil {
				return 0, err
			}
			migrationsSync.Inc(1)
		}
	}

	if b.backing == backingMem {
		data := b.pool.ramCache.Get(nil, b.ramKey())
		data = append(data, p...)
		b.pool.ramCache.Set(b.ramKey(), data)
		b.pool.adjustRAM(int64(len(p)))
		b.size = future
		return len(p), nil
	}

	if b.enc != nil {
		if err := b.enc.writeAt(b.file, b.size, p); err != nil {
			return 0, fmt.Errorf("tempbucket: encrypted write: %w", err)
		}
	} else if _, err := b.file.WriteAt(p, b.size); err != nil {
		return 0, fmt.Errorf("tempbucket: write: %w", err)
	}
	b.size = future
	return len(p), nil
}

// migrateToFileLocked is migrateToFile's body, invoked while b.mu is
// already held by Write (the caller re-enters under the same goroutine,
// so this does not re-lock).
func (b *Bucket) migrateToFileLocked() error {
	data := b.pool.ramCache.Get(nil, b.ramKey())

	path := b.pool.newFilePath(b.id)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("tempbucket: migrate create file: %w", err)
	}
	var enc *encState
	if b.pool.cfg.ReallyEncrypt {
		enc, err = newEncState()
		if err != nil {
			f.Close()
			os.Remove(path)
			return err
		}
	}
	if len(data) > 0 {
		if enc != nil {
			if err := enc.writeAt(f, 0, data); err != nil {
				f.Close()
				os.Remove(path)
				return fmt.Errorf("tempbucket: migrate encrypt: %w", err)
			}
		} else if _, err := f.WriteAt(data, 0); err != nil {
			f.Close()
			os.Remove(path)
			return fmt.Errorf("tempbucket: migrate write: %w", err)
		}
	}

	b.pool.ramCache.Del(b.ramKey())
	b.pool.untrackRAM(b.id)
	b.pool.adjustRAM(-b.size)

	b.backing = backingFile
	b.file = f
	b.enc = enc
	b.generation++
	return nil
}

// Close releases the write handle; it does not free the bucket.
func (w *Writer) Close() error {
	b := w.b
	b.mu.Lock()
	defer func() { b.writerOpen = false; b.mu.Unlock() }()
	if b.backing == backingFile && b.enc != nil {
		return b.enc.padTo(b.file, b.size)
	}
	return nil
}

// --- reader ---

// Reader is an independent read cursor over a Bucket. It transparently
// rebinds to the bucket's new backing store after a migration, resuming at
// the logical offset it had reached (testable property 5).
type Reader struct {
	b          *Bucket
	pos        int64
	generation uint64
	file       *os.File // private handle on the file backing, opened lazily
}

// OpenRead returns a new reader positioned at offset 0.
func (b *Bucket) OpenRead() (*Reader, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	return &Reader{b: b, generation: b.generation}, nil
}

func (r *Reader) rebindLocked() error {
	b := r.b
	if r.generation == b.generation {
		return nil
	}
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}
	if b.backing == backingFile {
		f, err := os.Open(b.file.Name())
		if err != nil {
			return fmt.Errorf("tempbucket: reopen after migration: %w", err)
		}
		r.file = f
	}
	r.generation = b.generation
	return nil
}

// Read implements io.Reader. While the writer is still open and no bytes
// are currently available, it returns (0, nil) rather than blocking or
// signalling EOF, matching the non-blocking suspension-point contract of
// §5: the caller (the announcement session's transfer code) polls.
func (r *Reader) Read(p []byte) (int, error) {
	b := r.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrClosed
	}
	if err := r.rebindLocked(); err != nil {
		return 0, err
	}

	if b.backing == backingMem {
		data := b.pool.ramCache.Get(nil, b.ramKey())
		if r.pos >= int64(len(data)) {
			if b.writerOpen {
				return 0, nil
			}
			return 0, io.EOF
		}
		n := copy(p, data[r.pos:])
		r.pos += int64(n)
		return n, nil
	}

	if r.pos >= b.size {
		if b.writerOpen {
			return 0, nil
		}
		return 0, io.EOF
	}
	toRead := p
	if int64(len(toRead)) > b.size-r.pos {
		toRead = toRead[:b.size-r.pos]
	}
	var n int
	var err error
	if b.enc != nil {
		n, err = b.enc.readAt(r.file, r.pos, toRead)
	} else {
		n, err = r.file.ReadAt(toRead, r.pos)
		if err == io.EOF && n > 0 {
			err = nil
		}
	}
	r.pos += int64(n)
	return n, err
}

// Close releases the reader's private file handle, if any.
func (r *Reader) Close() error {
	r.b.mu.Lock()
	defer r.b.mu.Unlock()
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}
	return nil
}

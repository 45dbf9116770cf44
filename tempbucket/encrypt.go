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
	"crypto/rand"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/chacha20"
)

// encBlockSize is the padding granularity for the "really encrypt" option
// (§4.4): every file-backed bucket's on-disk length is a multiple of this.
const encBlockSize = 1024

// encState is the single-use, per-bucket ephemeral keystream used to wrap a
// file-backed bucket when ReallyEncrypt is set. It is never persisted and
// is discarded with the bucket.
type encState struct {
	key   [chacha20.KeySize]byte
	nonce [chacha20.NonceSize]byte
}

func newEncState() (*encState, error) {
	e := &encState{}
	if _, err := io.ReadFull(rand.Reader, e.key[:]); err != nil {
		return nil, fmt.Errorf("tempbucket: generate key: %w", err)
	}
	if _, err := io.ReadFull(rand.Reader, e.nonce[:]); err != nil {
		return nil, fmt.Errorf("tempbucket: generate nonce: %w", err)
	}
	return e, nil
}

func (e *encState) cipherAt(byteOffset int64) (*chacha20.Cipher, error) {
	c, err := chacha20.NewUnauthenticatedCipher(e.key[:], e.nonce[:])
	if err != nil {
		return nil, err
	}
	block := byteOffset / 64
	c.SetCounter(uint32(block))
	if rem := byteOffset % 64; rem != 0 {
		discard := make([]byte, rem)
		c.XORKeyStream(discard, discard)
	}
	return c, nil
}

// writeAt encrypts p and writes it at the given plaintext byte offset of
// the underlying file. Each call derives a fresh keystream cursor seeked to
// offset, so out-of-order writes (never expected here, since size only
// grows) would still be positioned correctly.
func (e *encState) writeAt(f *os.File, offset int64, p []byte) error {
	c, err := e.cipherAt(offset)
	if err != nil {
		return err
	}
	ct := make([]byte, len(p))
	c.XORKeyStream(ct, p)
	_, err = f.WriteAt(ct, offset)
	return err
}

// readAt decrypts len(p) bytes starting at the given plaintext offset.
func (e *encState) readAt(f *os.File, offset int64, p []byte) (int, error) {
	ct := make([]byte, len(p))
	n, err := f.ReadAt(ct, offset)
	if n > 0 {
		c, cerr := e.cipherAt(offset)
		if cerr != nil {
			return 0, cerr
		}
		c.XORKeyStream(p[:n], ct[:n])
	}
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

// padTo pads the file up to the next multiple of encBlockSize, writing
// encrypted zero bytes for the pad region. Called once the writer closes.
func (e *encState) padTo(f *os.File, plainSize int64) error {
	rem := plainSize % encBlockSize
	if rem == 0 {
		return nil
	}
	padLen := encBlockSize - rem
	pad := make([]byte, padLen)
	return e.writeAt(f, plainSize, pad)
}

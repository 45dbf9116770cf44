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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncStateWriteReadRoundTrip(t *testing.T) {
	e, err := newEncState()
	require.NoError(t, err)

	f, err := os.OpenFile(filepath.Join(t.TempDir(), "enc.tmp"), os.O_RDWR|os.O_CREATE, 0o600)
	require.NoError(t, err)
	defer f.Close()

	plain := []byte("a noderef blob that spans more than one 64-byte chacha20 block, padded out")
	require.NoError(t, e.writeAt(f, 0, plain))

	out := make([]byte, len(plain))
	n, err := e.readAt(f, 0, out)
	require.NoError(t, err)
	assert.Equal(t, len(plain), n)
	assert.Equal(t, plain, out)
}

func TestEncStateCiphertextIsNotPlaintext(t *testing.T) {
	e, err := newEncState()
	require.NoError(t, err)
	f, err := os.OpenFile(filepath.Join(t.TempDir(), "enc.tmp"), os.O_RDWR|os.O_CREATE, 0o600)
	require.NoError(t, err)
	defer f.Close()

	plain := make([]byte, 256)
	for i := range plain {
		plain[i] = 0x42
	}
	require.NoError(t, e.writeAt(f, 0, plain))

	raw := make([]byte, 256)
	_, err = f.ReadAt(raw, 0)
	require.NoError(t, err)
	assert.NotEqual(t, plain, raw, "the on-disk bytes must not equal the plaintext")
}

func TestEncStatePadToRoundsUpToBlockSize(t *testing.T) {
	e, err := newEncState()
	require.NoError(t, err)
	f, err := os.OpenFile(filepath.Join(t.TempDir(), "enc.tmp"), os.O_RDWR|os.O_CREATE, 0o600)
	require.NoError(t, err)
	defer f.Close()

	plain := make([]byte, 10)
	require.NoError(t, e.writeAt(f, 0, plain))
	require.NoError(t, e.padTo(f, 10))

	info, err := f.Stat()
	require.NoError(t, err)
	assert.EqualValues(t, encBlockSize, info.Size())
}

func TestEncStateRandomOffsetReadMatchesSequentialWrite(t *testing.T) {
	e, err := newEncState()
	require.NoError(t, err)
	f, err := os.OpenFile(filepath.Join(t.TempDir(), "enc.tmp"), os.O_RDWR|os.O_CREATE, 0o600)
	require.NoError(t, err)
	defer f.Close()

	first := []byte("0123456789")
	second := []byte("abcdefghij")
	require.NoError(t, e.writeAt(f, 0, first))
	require.NoError(t, e.writeAt(f, int64(len(first)), second))

	out := make([]byte, len(second))
	n, err := e.readAt(f, int64(len(first)), out)
	require.NoError(t, err)
	assert.Equal(t, len(second), n)
	assert.Equal(t, second, out)
}

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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolMakeChoosesRAMOrFileByEstimatedSize(t *testing.T) {
	cfg := testConfig() // MaxRAMBucketSize=64
	p, err := NewPool(cfg, t.TempDir())
	require.NoError(t, err)
	defer p.Close()

	small, err := p.Make(8)
	require.NoError(t, err)
	defer small.Free()
	assert.False(t, small.IsFileBacked())

	large, err := p.Make(1000)
	require.NoError(t, err)
	defer large.Free()
	assert.True(t, large.IsFileBacked(), "an estimate above MaxRAMBucketSize must go straight to disk")
}

func TestPoolMakeGoesToFileOverRAMBudget(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRAMUsed = 4 // already effectively exhausted
	p, err := NewPool(cfg, t.TempDir())
	require.NoError(t, err)
	defer p.Close()

	b, err := p.Make(8) // small enough by size, but the pool budget is spent
	require.NoError(t, err)
	defer b.Free()
	assert.True(t, b.IsFileBacked())
}

func TestPoolBytesInUseTracksOnlyRAMBackedData(t *testing.T) {
	cfg := testConfig()
	p, err := NewPool(cfg, t.TempDir())
	require.NoError(t, err)
	defer p.Close()

	assert.Zero(t, p.BytesInUse())

	ramBucket, err := p.Make(8)
	require.NoError(t, err)
	w, err := ramBucket.OpenWrite()
	require.NoError(t, err)
	_, err = w.Write([]byte("abcd"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.EqualValues(t, 4, p.BytesInUse())

	fileBucket, err := p.Make(1000)
	require.NoError(t, err)
	fw, err := fileBucket.OpenWrite()
	require.NoError(t, err)
	_, err = fw.Write([]byte("ignored for RAM accounting"))
	require.NoError(t, err)
	require.NoError(t, fw.Close())
	assert.EqualValues(t, 4, p.BytesInUse(), "file-backed writes must not move the RAM counter")

	ramBucket.Free()
	fileBucket.Free()
	assert.Zero(t, p.BytesInUse())
}

func TestPoolOpportunisticSweepMigratesAgedBuckets(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAge = time.Millisecond
	p, err := NewPool(cfg, t.TempDir())
	require.NoError(t, err)
	defer p.Close()

	old, err := p.Make(8)
	require.NoError(t, err)
	defer old.Free()
	assert.False(t, old.IsFileBacked())

	time.Sleep(5 * time.Millisecond)

	// The next Make call's opportunistic trigger (§4.4) hands any bucket
	// older than MaxAge to an async migration worker.
	fresh, err := p.Make(8)
	require.NoError(t, err)
	defer fresh.Free()

	require.Eventually(t, old.IsFileBacked, time.Second, 5*time.Millisecond,
		"an aged RAM bucket must be migrated to disk by the opportunistic sweep")
}

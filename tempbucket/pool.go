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

// Package tempbucket implements the adaptive RAM/disk byte-buffer pool
// described in spec.md §4.4: small, short-lived buffers stay in memory; a
// buffer that grows past the configured budget, or that the process can no
// longer afford in RAM, migrates transparently to a file.
package tempbucket

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/fastcache"
	"golang.org/x/sync/errgroup"

	"github.com/Pascal666/fred/log"
	"github.com/Pascal666/fred/metrics"
	"github.com/Pascal666/fred/opennetcfg"
)

var (
	migrationsSync  = metrics.NewRegisteredCounter("fred/tempbucket/migrations/sync", nil)
	migrationsAsync = metrics.NewRegisteredCounter("fred/tempbucket/migrations/async", nil)
	migrationErrors = metrics.NewRegisteredCounter("fred/tempbucket/migrations/errors", nil)
)

// Pool is the process-wide bucket factory. One pool-level mutex guards
// bytes-in-use accounting and bucket bookkeeping; each bucket additionally
// has its own lock guarding backing/size/stream state (§5 "Shared resource
// policy"). The pool lock is never held while acquiring a bucket lock.
type Pool struct {
	cfg *opennetcfg.Config
	dir string

	ramCache *fastcache.Cache

	mu         sync.Mutex
	bytesInUse int64
	nextID     uint64
	ramLive    map[uint64]*Bucket // RAM-backed buckets eligible for the age sweep

	log *log.Logger

	closeOnce sync.Once
	stopSweep chan struct{}
}

// NewPool creates a pool rooted at dir for file-backed buckets. dir is
// created if absent. A background ticker additionally sweeps at
// cfg.SweepInterval, complementing the opportunistic per-Make trigger.
func NewPool(cfg *opennetcfg.Config, dir string) (*Pool, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("tempbucket: create dir: %w", err)
	}
	p := &Pool{
		cfg:       cfg,
		dir:       dir,
		ramCache:  fastcache.New(int(cfg.MaxRAMUsed) + 1<<20),
		ramLive:   make(map[uint64]*Bucket),
		log:       log.New("component", "tempbucket"),
		stopSweep: make(chan struct{}),
	}
	go p.sweepLoop()
	return p, nil
}

// Close stops the background maintenance ticker. Live buckets are unaffected.
func (p *Pool) Close() {
	p.closeOnce.Do(func() { close(p.stopSweep) })
}

// BytesInUse reports the current RAM accounting total (testable property 4).
func (p *Pool) BytesInUse() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bytesInUse
}

func (p *Pool) adjustRAM(delta int64) {
	p.mu.Lock()
	p.bytesInUse += delta
	if p.bytesInUse < 0 {
		p.bytesInUse = 0
	}
	p.mu.Unlock()
}

// Make allocates a new bucket. estimatedSize informs only the initial
// backing-store decision (§4.4); the bucket may still migrate later.
func (p *Pool) Make(estimatedSize int64) (*Bucket, error) {
	p.mu.Lock()
	ramBacked := estimatedSize > 0 && estimatedSize <= p.cfg.MaxRAMBucketSize && p.bytesInUse+estimatedSize <= p.cfg.MaxRAMUsed
	id := p.nextID
	p.nextID++
	p.mu.Unlock()

	stale := p.collectStale()

	b := &Bucket{
		pool:    p,
		id:      id,
		created: time.Now(),
		log:     p.log.New("bucket", id),
	}
	if ramBacked {
		b.backing = backingMem
		p.mu.Lock()
		p.ramLive[id] = b
		p.mu.Unlock()
	} else {
		if err := b.initFile(); err != nil {
			return nil, err
		}
	}

	if len(stale) > 0 {
		go p.migrateBatch(stale)
	}
	return b, nil
}

// migrateBatch migrates a batch of stale RAM-backed buckets to disk without
// holding the pool lock, using an errgroup so one bucket's I/O failure does
// not block its siblings (§4.4 "hands them to a worker to migrate").
func (p *Pool) migrateBatch(buckets []*Bucket) {
	var g errgroup.Group
	for _, b := range buckets {
		b := b
		g.Go(func() error {
			if err := b.migrateToFile(); err != nil {
				migrationErrors.Inc(1)
				p.log.Warn("async bucket migration failed, remains RAM-backed", "bucket", b.id, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// collectStale returns the RAM-backed buckets older than MaxAge. The live
// set is copied under the pool lock, which is released before any bucket
// lock is taken to read a creation time.
func (p *Pool) collectStale() []*Bucket {
	p.mu.Lock()
	live := make([]*Bucket, 0, len(p.ramLive))
	for _, b := range p.ramLive {
		live = append(live, b)
	}
	p.mu.Unlock()

	var stale []*Bucket
	now := time.Now()
	for _, b := range live {
		if now.Sub(b.createdAt()) > p.cfg.MaxAge {
			stale = append(stale, b)
		}
	}
	return stale
}

func (p *Pool) sweepLoop() {
	t := time.NewTicker(p.cfg.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if stale := p.collectStale(); len(stale) > 0 {
				p.migrateBatch(stale)
			}
		case <-p.stopSweep:
			return
		}
	}
}

func (p *Pool) untrackRAM(id uint64) {
	p.mu.Lock()
	delete(p.ramLive, id)
	p.mu.Unlock()
}

func (p *Pool) newFilePath(id uint64) string {
	return filepath.Join(p.dir, fmt.Sprintf("bucket-%d-%d.tmp", id, atomic.AddUint64(&fileSeq, 1)))
}

var fileSeq uint64

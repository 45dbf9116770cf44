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

// Package opennetcfg holds the tunables for the opennet announcement
// routing engine and the tempbucket pool, loaded from a TOML file the way
// the teacher loads its node configuration.
package opennetcfg

import (
	"os"
	"time"

	"github.com/naoina/toml"
)

// Config collects every literal called out in spec.md §6.
type Config struct {
	// MaxHTL bounds the hops-to-live counter, process-wide.
	MaxHTL uint16

	// AdmitTimeout bounds the AwaitAdmit wait (default 5000ms).
	AdmitTimeout time.Duration
	// BodyTimeout bounds the AwaitBody wait for normal messages (default 240000ms).
	BodyTimeout time.Duration
	// NoderefRejectedTimeout bounds the AwaitBody NoderefRejected alternative (default 5000ms).
	NoderefRejectedTimeout time.Duration
	// DrainTimeout is the absolute wall-clock cap on the Draining state (default 30000ms).
	DrainTimeout time.Duration

	// MaxRAMBucketSize is the largest single buffer the pool will place in RAM.
	MaxRAMBucketSize int64
	// MaxRAMUsed is the pool-wide RAM budget.
	MaxRAMUsed int64
	// ConversionFactor scales MaxRAMBucketSize for the synchronous-migration check (default 4).
	ConversionFactor int64
	// MaxAge is how long a RAM-backed bucket may live before the sweep migrates it (default 5m).
	MaxAge time.Duration
	// ReallyEncrypt wraps file-backed buckets in a padded encrypted layer.
	ReallyEncrypt bool
	// SweepInterval is the ambient maintenance ticker (distinct from the
	// opportunistic per-make trigger); see SPEC_FULL.md §12.4.
	SweepInterval time.Duration
}

// Default returns the configuration implied by spec.md's literals.
func Default() *Config {
	return &Config{
		MaxHTL:                 10,
		AdmitTimeout:           5000 * time.Millisecond,
		BodyTimeout:            240000 * time.Millisecond,
		NoderefRejectedTimeout: 5000 * time.Millisecond,
		DrainTimeout:           30000 * time.Millisecond,
		MaxRAMBucketSize:       32 * 1024,
		MaxRAMUsed:             4 * 1024 * 1024,
		ConversionFactor:       4,
		MaxAge:                 5 * time.Minute,
		ReallyEncrypt:          false,
		SweepInterval:          time.Minute,
	}
}

// tomlConfig mirrors Config with millisecond integers in place of
// time.Duration, since naoina/toml does not parse duration strings.
type tomlConfig struct {
	MaxHTL                   uint16
	AdmitTimeoutMS           int64
	BodyTimeoutMS            int64
	NoderefRejectedTimeoutMS int64
	DrainTimeoutMS           int64
	MaxRAMBucketSize         int64
	MaxRAMUsed               int64
	ConversionFactor         int64
	MaxAgeSeconds            int64
	ReallyEncrypt            bool
	SweepIntervalSeconds     int64
}

// LoadFile reads a TOML configuration file in the style of the teacher's
// own config loader (naoina/toml), falling back to Default for any zero field.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var tc tomlConfig
	if err := toml.NewDecoder(f).Decode(&tc); err != nil {
		return nil, err
	}

	cfg := Default()
	if tc.MaxHTL != 0 {
		cfg.MaxHTL = tc.MaxHTL
	}
	if tc.AdmitTimeoutMS != 0 {
		cfg.AdmitTimeout = time.Duration(tc.AdmitTimeoutMS) * time.Millisecond
	}
	if tc.BodyTimeoutMS != 0 {
		cfg.BodyTimeout = time.Duration(tc.BodyTimeoutMS) * time.Millisecond
	}
	if tc.NoderefRejectedTimeoutMS != 0 {
		cfg.NoderefRejectedTimeout = time.Duration(tc.NoderefRejectedTimeoutMS) * time.Millisecond
	}
	if tc.DrainTimeoutMS != 0 {
		cfg.DrainTimeout = time.Duration(tc.DrainTimeoutMS) * time.Millisecond
	}
	if tc.MaxRAMBucketSize != 0 {
		cfg.MaxRAMBucketSize = tc.MaxRAMBucketSize
	}
	if tc.MaxRAMUsed != 0 {
		cfg.MaxRAMUsed = tc.MaxRAMUsed
	}
	if tc.ConversionFactor != 0 {
		cfg.ConversionFactor = tc.ConversionFactor
	}
	if tc.MaxAgeSeconds != 0 {
		cfg.MaxAge = time.Duration(tc.MaxAgeSeconds) * time.Second
	}
	cfg.ReallyEncrypt = tc.ReallyEncrypt
	if tc.SweepIntervalSeconds != 0 {
		cfg.SweepInterval = time.Duration(tc.SweepIntervalSeconds) * time.Second
	}
	return cfg, nil
}

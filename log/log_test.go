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

package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChildLoggerInheritsParentContext(t *testing.T) {
	parent := New("component", "pool")
	child := parent.New("bucket", 7)

	want := append([]any{}, parent.ctx...)
	want = append(want, "bucket", 7)
	assert.Equal(t, want, child.ctx)
	assert.Equal(t, []any{"component", "pool"}, parent.ctx, "New must not mutate the parent's context slice")
}

func TestSetLevelAcceptsKnownNames(t *testing.T) {
	defer SetLevel("info")
	for _, name := range []string{"trace", "debug", "info", "warn", "error", "unknown-defaults-to-info"} {
		assert.NotPanics(t, func() { SetLevel(name) })
	}
}

func TestLeveledCallsDoNotPanic(t *testing.T) {
	l := New("component", "test")
	assert.NotPanics(t, func() {
		l.Trace("trace msg")
		l.Debug("debug msg", "k", 1)
		l.Info("info msg")
		l.Warn("warn msg")
		l.Error("error msg", "err", "boom")
	})
}

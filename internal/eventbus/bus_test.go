/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package eventbus

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/arclightx/arclightx/internal/backup"
	"github.com/arclightx/arclightx/internal/classifier"
	"github.com/arclightx/arclightx/internal/process"
)

// fatalT is the part of *testing.T and *rapid.T that receive needs
// fatalT 是 receive 所需的 *testing.T 与 *rapid.T 公共方法
type fatalT interface {
	Helper()
	Fatalf(format string, args ...any)
}

func receive(t fatalT, s *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-s.C:
		if !ok {
			t.Fatalf("subscription closed unexpectedly")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return Event{}
}

func waitClosed(t *testing.T, s *Subscription) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-s.C:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription channel was not closed")
		}
	}
}

func logLine(text string) classifier.LogLine {
	return classifier.NewLogLine(text, classifier.StreamStdout)
}

// TestProperty_FIFODelivery checks that a subscriber sees events in publish order
// TestProperty_FIFODelivery 检查订阅者按发布顺序接收事件
func TestProperty_FIFODelivery(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 200).Draw(t, "n")

		bus := New(nil)
		defer bus.Close()
		sub := bus.Subscribe(0)

		var kinds []Kind
		for i := 0; i < n; i++ {
			switch rapid.IntRange(0, 2).Draw(t, "kind") {
			case 0:
				bus.LogClassified(logLine(fmt.Sprintf("line %d", i)), classifier.CategoryInfo)
				kinds = append(kinds, KindLogClassified)
			case 1:
				bus.StateChanged(process.StateStarting, process.StateRunning, nil)
				kinds = append(kinds, KindStateChanged)
			default:
				bus.BackupProgress(backup.Record{ID: fmt.Sprintf("b%d", i)})
				kinds = append(kinds, KindBackupProgress)
			}
		}

		var lastSeq uint64
		for i := 0; i < n; i++ {
			ev := receive(t, sub)
			if ev.Seq <= lastSeq {
				t.Fatalf("sequence went backwards: %d after %d", ev.Seq, lastSeq)
			}
			lastSeq = ev.Seq
			if ev.Kind != kinds[i] {
				t.Fatalf("event %d: got kind %s, want %s", i, ev.Kind, kinds[i])
			}
		}
	})
}

func TestBus_KindFilter(t *testing.T) {
	bus := New(nil)
	defer bus.Close()

	states := bus.Subscribe(10, KindStateChanged)
	all := bus.Subscribe(10)

	bus.LogClassified(logLine("Done (3.2s)!"), classifier.CategoryInfo)
	bus.StateChanged(process.StateRunning, process.StateCrashed, &process.ExitInfo{Code: 1, Crashed: true})

	ev := receive(t, states)
	assert.Equal(t, KindStateChanged, ev.Kind)
	assert.True(t, ev.IsCrash())
	require.NotNil(t, ev.StateChanged.Exit)
	assert.True(t, ev.StateChanged.Exit.Crashed)

	first := receive(t, all)
	second := receive(t, all)
	assert.Equal(t, KindLogClassified, first.Kind)
	assert.Equal(t, "Done (3.2s)!", first.LogClassified.Line.Text)
	assert.Equal(t, KindStateChanged, second.Kind)
	assert.Less(t, first.Seq, second.Seq)
	assert.False(t, first.IsCrash())
}

func TestBus_OverflowDropsLogsFirst(t *testing.T) {
	bus := New(nil)
	defer bus.Close()

	sub := bus.Subscribe(3)

	bus.StateChanged(process.StateStopped, process.StateStarting, nil)
	for i := 0; i < 5; i++ {
		bus.LogClassified(logLine(fmt.Sprintf("line %d", i)), classifier.CategoryInfo)
	}
	bus.StateChanged(process.StateStarting, process.StateRunning, nil)

	var states, logs int
	var lastLog = -1
	for states < 2 {
		ev := receive(t, sub)
		switch ev.Kind {
		case KindStateChanged:
			states++
		case KindLogClassified:
			logs++
			var idx int
			_, err := fmt.Sscanf(ev.LogClassified.Line.Text, "line %d", &idx)
			require.NoError(t, err)
			assert.Greater(t, idx, lastLog, "surviving log lines keep their order")
			lastLog = idx
		}
	}

	dropped := sub.Dropped()
	assert.Zero(t, dropped[KindStateChanged])
	assert.Positive(t, dropped[KindLogClassified])
	assert.Equal(t, uint64(5), uint64(logs)+dropped[KindLogClassified])
}

func TestBus_OverflowWithoutLogs(t *testing.T) {
	bus := New(nil)
	defer bus.Close()

	sub := bus.Subscribe(2, KindBackupProgress)
	for i := 0; i < 10; i++ {
		bus.BackupProgress(backup.Record{ID: fmt.Sprintf("b%d", i)})
	}

	// the newest progress snapshot always survives
	var last string
	deadline := time.After(2 * time.Second)
	for last != "b9" {
		select {
		case ev := <-sub.C:
			last = ev.BackupProgress.Record.ID
		case <-deadline:
			t.Fatalf("newest event never delivered, last seen %q", last)
		}
	}
	assert.Positive(t, sub.Dropped()[KindBackupProgress])
}

func TestBus_UnsubscribeAndClose(t *testing.T) {
	bus := New(nil)

	a := bus.Subscribe(10)
	b := bus.Subscribe(10)
	assert.Equal(t, 2, bus.Subscribers())

	bus.Unsubscribe(a)
	waitClosed(t, a)
	assert.Equal(t, 1, bus.Subscribers())

	bus.Close()
	waitClosed(t, b)
	assert.Equal(t, 0, bus.Subscribers())

	// publishing after close is a no-op and late subscribers get a closed channel
	bus.StateChanged(process.StateStopped, process.StateStarting, nil)
	late := bus.Subscribe(10)
	waitClosed(t, late)
	bus.Unsubscribe(late)
}

func TestBus_PublishDoesNotBlock(t *testing.T) {
	bus := New(nil)
	defer bus.Close()
	_ = bus.Subscribe(1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			bus.LogClassified(logLine("spam"), classifier.CategoryUncategorized)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publishing blocked on a subscriber that never reads")
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseKind(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("nope")
	assert.Error(t, err)
}

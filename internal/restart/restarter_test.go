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

package restart

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/arclightx/arclightx/internal/eventbus"
	"github.com/arclightx/arclightx/internal/process"
)

type fakeSupervisor struct {
	mu       sync.Mutex
	state    process.State
	cfg      *process.LaunchConfig
	startErr error
	starts   int
}

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{
		state: process.StateCrashed,
		cfg:   &process.LaunchConfig{JavaPath: "java", JarPath: "server.jar", WorkDir: "/srv/mc"},
	}
}

func (f *fakeSupervisor) Start(ctx context.Context, cfg *process.LaunchConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.state = process.StateRunning
	return nil
}

func (f *fakeSupervisor) LastConfig() *process.LaunchConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg
}

func (f *fakeSupervisor) CurrentState() process.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSupervisor) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func quickConfig() *Config {
	return &Config{
		Enabled:        true,
		RestartDelay:   0,
		MaxRestarts:    3,
		TimeWindow:     5 * time.Minute,
		CooldownPeriod: 30 * time.Minute,
	}
}

// TestProperty_RestartCountLimit 测试时间窗口内的重启次数不超过上限，超限后进入冷却
func TestProperty_RestartCountLimit(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		maxRestarts := rapid.IntRange(1, 5).Draw(t, "maxRestarts")
		timeWindow := time.Duration(rapid.IntRange(60, 300).Draw(t, "timeWindow")) * time.Second

		restarter := NewAutoRestarter(newFakeSupervisor(), nil)
		restarter.SetConfig(&Config{
			Enabled:        true,
			RestartDelay:   time.Second,
			MaxRestarts:    maxRestarts,
			TimeWindow:     timeWindow,
			CooldownPeriod: 30 * time.Minute,
		})

		for i := 0; i < maxRestarts; i++ {
			if !restarter.ShouldRestart() {
				t.Fatalf("should allow restart %d (max: %d)", i+1, maxRestarts)
			}
			restarter.recordRestart()
		}

		if restarter.ShouldRestart() {
			t.Fatalf("should not allow restart after reaching max (%d)", maxRestarts)
		}
		if !restarter.IsInCooldown() {
			t.Fatalf("should be in cooldown after reaching max restarts")
		}
	})
}

// TestProperty_WindowExpiry 测试超出时间窗口的重启不计入上限
func TestProperty_WindowExpiry(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		maxRestarts := rapid.IntRange(1, 5).Draw(t, "maxRestarts")
		window := time.Duration(rapid.IntRange(1, 60).Draw(t, "windowMinutes")) * time.Minute

		clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		restarter := NewAutoRestarter(newFakeSupervisor(), nil)
		restarter.now = func() time.Time { return clock }
		restarter.SetConfig(&Config{Enabled: true, MaxRestarts: maxRestarts, TimeWindow: window, CooldownPeriod: time.Hour})

		for i := 0; i < maxRestarts; i++ {
			restarter.recordRestart()
		}

		clock = clock.Add(window + time.Second)
		if !restarter.ShouldRestart() {
			t.Fatalf("restarts outside the window must not count")
		}
	})
}

// TestProperty_CooldownReset 测试冷却过后计数器被重置
func TestProperty_CooldownReset(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cooldown := time.Duration(rapid.IntRange(1, 120).Draw(t, "cooldownMinutes")) * time.Minute

		clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		restarter := NewAutoRestarter(newFakeSupervisor(), nil)
		restarter.now = func() time.Time { return clock }
		restarter.SetConfig(&Config{Enabled: true, MaxRestarts: 3, TimeWindow: 5 * time.Minute, CooldownPeriod: cooldown})

		for i := 0; i < 3; i++ {
			restarter.recordRestart()
		}
		if restarter.ShouldRestart() {
			t.Fatalf("limit reached, restart must be refused")
		}

		clock = clock.Add(cooldown + time.Second)
		if restarter.IsInCooldown() {
			t.Fatalf("cooldown should have passed")
		}
		if !restarter.ShouldRestart() {
			t.Fatalf("should allow restart after cooldown")
		}

		history := restarter.GetRestartHistory()
		if history == nil || len(history.RestartTimes) != 0 || history.RestartCount != 0 {
			t.Fatalf("history should be reset after cooldown: %+v", history)
		}
	})
}

func TestResetRestartCount(t *testing.T) {
	restarter := NewAutoRestarter(newFakeSupervisor(), nil)
	restarter.SetConfig(quickConfig())
	for i := 0; i < 3; i++ {
		restarter.recordRestart()
	}
	require.False(t, restarter.ShouldRestart())

	restarter.ResetRestartCount()
	assert.False(t, restarter.IsInCooldown())
	assert.True(t, restarter.ShouldRestart())
}

func TestGetRestartHistory_ReturnsCopy(t *testing.T) {
	restarter := NewAutoRestarter(newFakeSupervisor(), nil)
	assert.Nil(t, restarter.GetRestartHistory())

	restarter.recordRestart()
	h := restarter.GetRestartHistory()
	require.NotNil(t, h)
	require.Len(t, h.RestartTimes, 1)
	h.RestartTimes[0] = time.Time{}
	h.RestartCount = 99

	again := restarter.GetRestartHistory()
	assert.Equal(t, 1, again.RestartCount)
	assert.False(t, again.RestartTimes[0].IsZero())
}

func TestOnCrashed_RestartsWithLastConfig(t *testing.T) {
	sup := newFakeSupervisor()
	restarter := NewAutoRestarter(sup, nil)
	restarter.SetConfig(quickConfig())

	var results []bool
	restarter.SetCallback(func(success bool, err error) { results = append(results, success) })

	require.NoError(t, restarter.OnCrashed(context.Background(), &process.ExitInfo{Code: 1, Crashed: true}))
	assert.Equal(t, 1, sup.startCount())
	assert.Equal(t, []bool{true}, results)
	assert.Equal(t, 1, restarter.GetRestartHistory().RestartCount)
}

func TestOnCrashed_Disabled(t *testing.T) {
	sup := newFakeSupervisor()
	restarter := NewAutoRestarter(sup, nil)
	cfg := quickConfig()
	cfg.Enabled = false
	restarter.SetConfig(cfg)

	require.NoError(t, restarter.OnCrashed(context.Background(), nil))
	assert.Zero(t, sup.startCount())
}

func TestOnCrashed_LimitReached(t *testing.T) {
	sup := newFakeSupervisor()
	restarter := NewAutoRestarter(sup, nil)
	cfg := quickConfig()
	cfg.MaxRestarts = 1
	restarter.SetConfig(cfg)

	require.NoError(t, restarter.OnCrashed(context.Background(), nil))
	sup.state = process.StateCrashed
	err := restarter.OnCrashed(context.Background(), nil)
	assert.ErrorIs(t, err, ErrRestartLimit)
	assert.Equal(t, 1, sup.startCount())
}

func TestOnCrashed_SkipsWhenNoLongerCrashed(t *testing.T) {
	sup := newFakeSupervisor()
	sup.state = process.StateRunning
	restarter := NewAutoRestarter(sup, nil)
	restarter.SetConfig(quickConfig())

	require.NoError(t, restarter.OnCrashed(context.Background(), nil))
	assert.Zero(t, sup.startCount())
	assert.Nil(t, restarter.GetRestartHistory())
}

func TestOnCrashed_CancelledDuringDelay(t *testing.T) {
	sup := newFakeSupervisor()
	restarter := NewAutoRestarter(sup, nil)
	cfg := quickConfig()
	cfg.RestartDelay = time.Hour
	restarter.SetConfig(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := restarter.OnCrashed(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, sup.startCount())
}

func TestDoRestart_AlreadyRunningIsSuccess(t *testing.T) {
	sup := newFakeSupervisor()
	sup.startErr = process.ErrAlreadyRunning
	restarter := NewAutoRestarter(sup, nil)

	require.NoError(t, restarter.DoRestart(context.Background()))
	assert.Nil(t, restarter.GetRestartHistory(), "no restart happened, nothing to record")
}

func TestDoRestart_FailureIsRecorded(t *testing.T) {
	sup := newFakeSupervisor()
	sup.startErr = errors.New("boom")
	restarter := NewAutoRestarter(sup, nil)

	var gotErr error
	restarter.SetCallback(func(success bool, err error) { gotErr = err })

	require.Error(t, restarter.DoRestart(context.Background()))
	assert.EqualError(t, gotErr, "boom")
	assert.Equal(t, 1, restarter.GetRestartHistory().RestartCount)
}

func TestDoRestart_NoLastConfig(t *testing.T) {
	sup := newFakeSupervisor()
	sup.cfg = nil
	restarter := NewAutoRestarter(sup, nil)

	err := restarter.DoRestart(context.Background())
	assert.ErrorIs(t, err, process.ErrConfiguration)
	assert.Zero(t, sup.startCount())
}

func TestRun_RestartsOnCrashEvent(t *testing.T) {
	sup := newFakeSupervisor()
	restarter := NewAutoRestarter(sup, nil)
	restarter.SetConfig(quickConfig())

	bus := eventbus.New(nil)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		restarter.Run(ctx, bus)
		close(done)
	}()

	require.Eventually(t, func() bool { return bus.Subscribers() == 1 }, 5*time.Second, 10*time.Millisecond)

	// a clean stop must not trigger a restart
	bus.StateChanged(process.StateStopping, process.StateStopped, &process.ExitInfo{Code: 0})
	bus.StateChanged(process.StateRunning, process.StateCrashed, &process.ExitInfo{Code: 1, Crashed: true})

	require.Eventually(t, func() bool { return sup.startCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

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

// Package eventbus fans supervisor and backup events out to subscribers.
// eventbus 包将 Supervisor 与备份事件分发给订阅者。
package eventbus

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arclightx/arclightx/internal/backup"
	"github.com/arclightx/arclightx/internal/classifier"
	"github.com/arclightx/arclightx/internal/process"
)

// DefaultBufferSize is the default per-subscription queue size
// DefaultBufferSize 是每个订阅的默认队列大小
const DefaultBufferSize = 1000

// Kind identifies the payload of an Event
// Kind 标识事件的负载类型
type Kind string

const (
	KindStateChanged   Kind = "state_changed"
	KindLogClassified  Kind = "log_classified"
	KindBackupProgress Kind = "backup_progress"
)

// Kinds returns every event kind.
func Kinds() []Kind {
	return []Kind{KindStateChanged, KindLogClassified, KindBackupProgress}
}

// ParseKind converts a string into a Kind.
// ParseKind 将字符串转换为 Kind。
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("eventbus: unknown event kind %q", s)
}

// StateChanged is published on every lifecycle transition. Exit is set when the process ended.
// StateChanged 在每次生命周期转换时发布，进程结束时 Exit 非空。
type StateChanged struct {
	Old  process.State     `json:"old"`
	New  process.State     `json:"new"`
	Exit *process.ExitInfo `json:"exit,omitempty"`
}

// LogClassified carries one classified output line
// LogClassified 携带一行已分类的输出
type LogClassified struct {
	Line     classifier.LogLine  `json:"line"`
	Category classifier.Category `json:"category"`
}

// BackupProgress carries a snapshot of a backup record
// BackupProgress 携带备份记录的快照
type BackupProgress struct {
	Record backup.Record `json:"record"`
}

// Event is one bus message. Exactly one payload field is set, matching Kind.
// Event 是一条总线消息，只有与 Kind 对应的负载字段被设置。
type Event struct {
	Seq            uint64          `json:"seq"`
	Kind           Kind            `json:"kind"`
	Time           time.Time       `json:"time"`
	StateChanged   *StateChanged   `json:"state_changed,omitempty"`
	LogClassified  *LogClassified  `json:"log_classified,omitempty"`
	BackupProgress *BackupProgress `json:"backup_progress,omitempty"`
}

// IsCrash reports whether the event is a crash notification
// IsCrash 判断事件是否为崩溃通知
func (e Event) IsCrash() bool {
	return e.Kind == KindStateChanged && e.StateChanged != nil &&
		e.StateChanged.New == process.StateCrashed
}

// Bus delivers events to subscriptions. Publishing never blocks on a slow subscriber.
// Bus 将事件投递给订阅者，发布操作不会因慢速订阅者而阻塞。
type Bus struct {
	mu     sync.Mutex
	seq    uint64
	subs   map[*Subscription]struct{}
	closed bool
	logger *zap.Logger
}

// New creates a Bus.
// New 创建 Bus。
func New(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:   make(map[*Subscription]struct{}),
		logger: logger.With(zap.String("component", "eventbus")),
	}
}

// Publish stamps ev with a sequence number and enqueues it for every interested subscription
// Publish 为事件分配序号并放入所有感兴趣的订阅队列
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.seq++
	ev.Seq = b.seq
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	for s := range b.subs {
		if dropped := s.enqueue(ev); dropped != "" {
			b.logger.Debug("subscriber queue full, event dropped",
				zap.String("dropped_kind", string(dropped)), zap.Uint64("seq", ev.Seq))
		}
	}
}

// StateChanged implements process.Observer.
func (b *Bus) StateChanged(old, new process.State, exit *process.ExitInfo) {
	b.Publish(Event{Kind: KindStateChanged, StateChanged: &StateChanged{Old: old, New: new, Exit: exit}})
}

// LogClassified implements process.Observer.
func (b *Bus) LogClassified(line classifier.LogLine, category classifier.Category) {
	b.Publish(Event{Kind: KindLogClassified, LogClassified: &LogClassified{Line: line, Category: category}})
}

// BackupProgress implements backup.ProgressObserver.
func (b *Bus) BackupProgress(rec backup.Record) {
	b.Publish(Event{Kind: KindBackupProgress, BackupProgress: &BackupProgress{Record: rec}})
}

// Subscribe registers a subscription for the given kinds (all kinds when none are given)
// Subscribe 为指定类型注册订阅（未指定时订阅全部类型）
//
// bufferSize bounds the queue, values <= 0 use DefaultBufferSize. On a closed bus the
// returned subscription's channel is already closed.
// bufferSize 限制队列长度，<= 0 时使用 DefaultBufferSize。总线已关闭时返回的订阅通道已关闭。
func (b *Bus) Subscribe(bufferSize int, kinds ...Kind) *Subscription {
	s := newSubscription(bufferSize, kinds)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.stop()
		close(s.out)
		return s
	}
	b.subs[s] = struct{}{}
	go s.pump()
	return s
}

// Unsubscribe removes s and closes its channel. Pending events are discarded.
// Unsubscribe 移除订阅并关闭其通道，未投递的事件会被丢弃。
func (b *Bus) Unsubscribe(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
	s.stop()
}

// Close unsubscribes everyone. Later publishes are ignored.
// Close 取消所有订阅，之后的发布将被忽略。
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[*Subscription]struct{})
	b.closed = true
	b.mu.Unlock()

	for s := range subs {
		s.stop()
	}
}

// Subscribers returns the number of active subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Subscription is a bounded FIFO queue drained into C by its own goroutine
// Subscription 是有界 FIFO 队列，由独立 goroutine 投递到 C
type Subscription struct {
	// C receives events in publish order. It is closed on Unsubscribe or Close.
	// C 按发布顺序接收事件，在 Unsubscribe 或 Close 时关闭。
	C <-chan Event

	out   chan Event
	kinds map[Kind]bool

	mu      sync.Mutex
	queue   []Event
	limit   int
	dropped map[Kind]uint64

	notify   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newSubscription(bufferSize int, kinds []Kind) *Subscription {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	s := &Subscription{
		out:     make(chan Event),
		limit:   bufferSize,
		dropped: make(map[Kind]uint64),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	s.C = s.out
	if len(kinds) > 0 {
		s.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = true
		}
	}
	return s
}

func (s *Subscription) wants(k Kind) bool {
	return s.kinds == nil || s.kinds[k]
}

// enqueue appends ev and trims the queue to its limit, returning the kind dropped if any
// enqueue 追加事件并将队列裁剪到上限，返回被丢弃事件的类型
//
// Log lines are dropped first, oldest first. Other kinds go only when nothing else is queued.
// 优先丢弃最旧的日志行，其他类型仅在队列中没有日志时才会被丢弃。
func (s *Subscription) enqueue(ev Event) Kind {
	if !s.wants(ev.Kind) {
		return ""
	}

	var dropped Kind
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	for len(s.queue) > s.limit {
		idx := 0
		for i := range s.queue {
			if s.queue[i].Kind == KindLogClassified {
				idx = i
				break
			}
		}
		dropped = s.queue[idx].Kind
		s.dropped[dropped]++
		s.queue = append(s.queue[:idx], s.queue[idx+1:]...)
	}
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return dropped
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}
		ev := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}

func (s *Subscription) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// Dropped returns how many events of each kind were discarded because the queue was full.
// Dropped 返回因队列已满而丢弃的各类型事件数量。
func (s *Subscription) Dropped() map[Kind]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Kind]uint64, len(s.dropped))
	for k, v := range s.dropped {
		out[k] = v
	}
	return out
}

// Pending returns the number of queued events.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

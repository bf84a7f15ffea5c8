/*
 * Copyright 2018 The CovenantSQL Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package chainbus fans ledger events out to subscribers. Asynchronous
// subscribers own an ordered queue so that a slow consumer never blocks the
// publisher and always observes events in publish order.
package chainbus

import (
	"fmt"
	"reflect"
	"sync"
)

// Subscription is returned by the subscribe calls and cancels delivery.
type Subscription interface {
	Unsubscribe()
}

// ChainSuber defines subscribing-related bus behavior.
type ChainSuber interface {
	Subscribe(topic string, fn interface{}) (Subscription, error)
	SubscribeAsync(topic string, fn interface{}, backlog ...[]interface{}) (Subscription, error)
}

// ChainPuber defines publishing-related bus behavior.
type ChainPuber interface {
	Publish(topic string, args ...interface{})
}

// BusController defines bus control behavior (checking handler's presence, synchronization).
type BusController interface {
	HasCallback(topic string) bool
	WaitAsync()
	Close()
}

// Bus englobes global (subscribe, publish, control) bus behavior.
type Bus interface {
	BusController
	ChainSuber
	ChainPuber
}

// ChainBus - box for handlers and callbacks.
type ChainBus struct {
	handlers map[string][]*eventHandler
	lock     sync.Mutex // a lock for the map
	wg       sync.WaitGroup
	closed   bool
}

type eventHandler struct {
	bus      *ChainBus
	topic    string
	callBack reflect.Value
	async    bool

	sync.Mutex // guards queue and removed
	queue      [][]reflect.Value
	removed    bool
	signal     chan struct{}
	done       chan struct{}
	once       sync.Once
}

// New returns new ChainBus with empty handlers.
func New() Bus {
	return &ChainBus{
		handlers: make(map[string][]*eventHandler),
	}
}

func (bus *ChainBus) newHandler(topic string, fn interface{}, async bool) (*eventHandler, error) {
	if fn == nil || reflect.TypeOf(fn).Kind() != reflect.Func {
		return nil, fmt.Errorf("%T is not of type reflect.Func", fn)
	}
	return &eventHandler{
		bus:      bus,
		topic:    topic,
		callBack: reflect.ValueOf(fn),
		async:    async,
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}, nil
}

func (bus *ChainBus) doSubscribe(h *eventHandler) error {
	bus.lock.Lock()
	defer bus.lock.Unlock()
	if bus.closed {
		return fmt.Errorf("bus closed, cannot subscribe to %s", h.topic)
	}
	bus.handlers[h.topic] = append(bus.handlers[h.topic], h)
	if h.async {
		go h.loop()
	}
	return nil
}

// Subscribe subscribes fn to a topic; fn runs on the publisher's goroutine.
// Returns error if fn is not a function.
func (bus *ChainBus) Subscribe(topic string, fn interface{}) (Subscription, error) {
	h, err := bus.newHandler(topic, fn, false)
	if err != nil {
		return nil, err
	}
	return h, bus.doSubscribe(h)
}

// SubscribeAsync subscribes fn to a topic with an ordered asynchronous queue.
// Each backlog entry is an argument list delivered before any event
// published after this call.
// Returns error if fn is not a function.
func (bus *ChainBus) SubscribeAsync(topic string, fn interface{}, backlog ...[]interface{}) (Subscription, error) {
	h, err := bus.newHandler(topic, fn, true)
	if err != nil {
		return nil, err
	}
	for _, args := range backlog {
		h.enqueue(h.arguments(args))
	}
	if err = bus.doSubscribe(h); err != nil {
		h.drop()
		return nil, err
	}
	return h, nil
}

// HasCallback returns true if exists any callback subscribed to the topic.
func (bus *ChainBus) HasCallback(topic string) bool {
	bus.lock.Lock()
	defer bus.lock.Unlock()
	return len(bus.handlers[topic]) > 0
}

// Publish executes callbacks defined for a topic. Any additional argument
// will be transferred to the callback.
func (bus *ChainBus) Publish(topic string, args ...interface{}) {
	bus.lock.Lock()
	handlers := make([]*eventHandler, len(bus.handlers[topic]))
	copy(handlers, bus.handlers[topic])
	for _, h := range handlers {
		if h.async {
			h.enqueue(h.arguments(args))
		}
	}
	bus.lock.Unlock()

	for _, h := range handlers {
		if !h.async {
			h.callBack.Call(h.arguments(args))
		}
	}
}

// WaitAsync waits until every queued asynchronous delivery is done.
func (bus *ChainBus) WaitAsync() {
	bus.wg.Wait()
}

// Close unsubscribes every handler and rejects further subscriptions.
func (bus *ChainBus) Close() {
	bus.lock.Lock()
	bus.closed = true
	var all []*eventHandler
	for _, hs := range bus.handlers {
		all = append(all, hs...)
	}
	bus.handlers = make(map[string][]*eventHandler)
	bus.lock.Unlock()

	for _, h := range all {
		h.drop()
	}
}

func (bus *ChainBus) removeHandler(h *eventHandler) {
	bus.lock.Lock()
	defer bus.lock.Unlock()
	hs := bus.handlers[h.topic]
	for i, v := range hs {
		if v == h {
			copy(hs[i:], hs[i+1:])
			hs[len(hs)-1] = nil
			bus.handlers[h.topic] = hs[:len(hs)-1]
			break
		}
	}
	if len(bus.handlers[h.topic]) == 0 {
		delete(bus.handlers, h.topic)
	}
}

// Unsubscribe implements Subscription. Queued but undelivered events are dropped.
func (h *eventHandler) Unsubscribe() {
	h.bus.removeHandler(h)
	h.drop()
}

// arguments converts args to call values, nil becomes the zero value of the
// matching parameter.
func (h *eventHandler) arguments(args []interface{}) []reflect.Value {
	typ := h.callBack.Type()
	values := make([]reflect.Value, 0, len(args))
	for i, arg := range args {
		if arg == nil && i < typ.NumIn() {
			values = append(values, reflect.Zero(typ.In(i)))
			continue
		}
		values = append(values, reflect.ValueOf(arg))
	}
	return values
}

func (h *eventHandler) enqueue(args []reflect.Value) {
	h.Lock()
	defer h.Unlock()
	if h.removed {
		return
	}
	h.bus.wg.Add(1)
	h.queue = append(h.queue, args)
	select {
	case h.signal <- struct{}{}:
	default:
	}
}

func (h *eventHandler) drop() {
	h.once.Do(func() {
		h.Lock()
		h.removed = true
		pending := len(h.queue)
		h.queue = nil
		h.Unlock()
		for i := 0; i < pending; i++ {
			h.bus.wg.Done()
		}
		close(h.done)
	})
}

func (h *eventHandler) next() (args []reflect.Value, ok bool) {
	h.Lock()
	defer h.Unlock()
	if h.removed || len(h.queue) == 0 {
		return
	}
	args, ok = h.queue[0], true
	h.queue[0] = nil
	h.queue = h.queue[1:]
	return
}

func (h *eventHandler) loop() {
	for {
		select {
		case <-h.done:
			return
		case <-h.signal:
		}
		for {
			args, ok := h.next()
			if !ok {
				break
			}
			h.callBack.Call(args)
			h.bus.wg.Done()
		}
	}
}

/*
 * Copyright 2019 The CovenantSQL Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package client

import (
	"context"
	"sync"
	"time"

	uuid "github.com/satori/go.uuid"

	"github.com/CovenantSQL/cql-oracle/api"
	"github.com/CovenantSQL/cql-oracle/types"
	"github.com/CovenantSQL/cql-oracle/utils/log"
)

const unsubscribeTimeout = 5 * time.Second

// Subscription delivers the logs of one event, one block per receive.
type Subscription struct {
	client *Client
	id     string
	logs   chan []*types.Log
	err    chan error

	lock    sync.Mutex
	queue   [][]*types.Log
	failure error
	signal  chan struct{}
	quit    chan struct{}
	once    sync.Once
}

// Subscribe follows event from fromBlock on, replaying the existing blocks first.
func (c *Client) Subscribe(ctx context.Context, event string, fromBlock uint64) (sub *Subscription, err error) {
	sub = &Subscription{
		client: c,
		id:     uuid.Must(uuid.NewV4()).String(),
		logs:   make(chan []*types.Log),
		err:    make(chan error, 1),
		signal: make(chan struct{}, 1),
		quit:   make(chan struct{}),
	}
	// registered before the call, the backlog may arrive ahead of the reply
	c.subsLock.Lock()
	c.subs[sub.id] = sub
	c.subsLock.Unlock()
	go sub.pump()

	var id string
	if err = c.call(ctx, api.MethodSubscribe, &id, sub.id, event, fromBlock); err != nil {
		c.forget(sub.id)
		sub.fail(nil)
		return nil, err
	}
	log.WithFields(log.Fields{"subscription": sub.id, "event": event, "from": fromBlock}).Debug("client: subscribed")
	return
}

func (c *Client) forget(id string) {
	c.subsLock.Lock()
	defer c.subsLock.Unlock()
	delete(c.subs, id)
}

// ID returns the subscription id.
func (s *Subscription) ID() string {
	return s.id
}

// Logs returns the channel receiving the logs, it is closed once the
// subscription ends.
func (s *Subscription) Logs() <-chan []*types.Log {
	return s.logs
}

// Err returns a channel receiving the error that ended the subscription, it
// is closed without value after Unsubscribe.
func (s *Subscription) Err() <-chan error {
	return s.err
}

// Unsubscribe ends the subscription.
func (s *Subscription) Unsubscribe() {
	s.client.forget(s.id)
	ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
	defer cancel()
	var ok bool
	if err := s.client.call(ctx, api.MethodUnsubscribe, &ok, s.id); err != nil {
		log.WithField("subscription", s.id).WithError(err).Debug("client: unsubscribe failed")
	}
	s.fail(nil)
}

func (s *Subscription) push(logs []*types.Log) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.queue = append(s.queue, logs)
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) fail(err error) {
	s.once.Do(func() {
		s.lock.Lock()
		s.failure = err
		s.lock.Unlock()
		close(s.quit)
	})
}

func (s *Subscription) next() (logs []*types.Log, ok bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if len(s.queue) == 0 {
		return
	}
	logs, ok = s.queue[0], true
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return
}

func (s *Subscription) pump() {
	defer func() {
		s.lock.Lock()
		err := s.failure
		s.lock.Unlock()
		if err != nil {
			s.err <- err
		}
		close(s.err)
		close(s.logs)
	}()
	for {
		select {
		case <-s.quit:
			return
		case <-s.signal:
		}
		for {
			logs, ok := s.next()
			if !ok {
				break
			}
			select {
			case s.logs <- logs:
			case <-s.quit:
				return
			}
		}
	}
}

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

package relay

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
	"github.com/ivpusic/grpool"
	"github.com/jmoiron/jsonq"
	"github.com/pkg/errors"
	gorp "gopkg.in/gorp.v2"

	"github.com/CovenantSQL/cql-oracle/client"
	"github.com/CovenantSQL/cql-oracle/types"
	"github.com/CovenantSQL/cql-oracle/utils/log"
	"github.com/CovenantSQL/cql-oracle/utils/timer"
)

// Watch names, also used as checkpoint keys.
const (
	WatchRequests  = types.EventOracleRequest
	WatchCallbacks = types.EventCallbacked
)

// ErrStopped indicates an engine used after Stop.
var ErrStopped = errors.New("relay engine stopped")

// Engine defines the relay instance object.
type Engine struct {
	cfg     *Config
	client  *client.Client
	db      *gorp.DbMap
	compute *ComputeClient
	pool    *grpool.Pool
	seen    *lru.Cache
	metrics *relayMetrics
	now     func() time.Time

	// lock serialises record transitions of dispatch jobs and watches
	lock sync.Mutex

	processCtx    context.Context
	cancelProcess context.CancelFunc
	watches       sync.WaitGroup
	jobs          sync.WaitGroup
	errCh         chan error
	stopOnce      sync.Once
}

// NewEngine creates new relay engine object, c must sign as the oracle owner.
func NewEngine(cfg *Config, c *client.Client) (e *Engine, err error) {
	cfg = cfg.withDefaults()
	e = &Engine{
		cfg:     cfg,
		client:  c,
		compute: NewComputeClient(cfg.ComputeURL, cfg.ComputeTimeout, cfg.MaxRetries, cfg.RetryInterval),
		metrics: newRelayMetrics(),
		now:     time.Now,
		errCh:   make(chan error, 2),
	}
	e.processCtx, e.cancelProcess = context.WithCancel(context.Background())
	if e.seen, err = lru.New(cfg.SeenCacheSize); err != nil {
		return nil, errors.Wrap(err, "create seen cache failed")
	}
	if e.db, err = OpenStore(cfg.Database); err != nil {
		return nil, err
	}
	if err = e.metrics.register(cfg.Registerer); err != nil {
		_ = e.db.Db.Close()
		return nil, errors.Wrap(err, "register relay metrics failed")
	}
	return
}

// Start resumes the unfinished requests of a previous run and starts
// watching the ledger.
func (e *Engine) Start(ctx context.Context) (err error) {
	if e.processCtx.Err() != nil {
		return ErrStopped
	}
	e.pool = grpool.NewPool(e.cfg.Workers, e.cfg.QueueSize)
	defer func() {
		if err != nil {
			e.Stop()
		}
	}()

	if err = e.recover(ctx); err != nil {
		return
	}

	for _, w := range []struct {
		name   string
		handle func([]*types.Log) error
	}{
		{name: WatchRequests, handle: e.handleRequests},
		{name: WatchCallbacks, handle: e.handleCallbacks},
	} {
		var (
			from uint64
			sub  *client.Subscription
		)
		if from, err = e.startBlock(ctx, w.name); err != nil {
			return
		}
		if sub, err = e.client.Subscribe(ctx, w.name, from); err != nil {
			err = errors.Wrapf(err, "subscribe %s failed", w.name)
			return
		}
		log.WithFields(log.Fields{"watch": w.name, "from": from}).Info("relay: watch started")
		e.watches.Add(1)
		go e.watch(w.name, sub, w.handle)
	}
	return
}

// Err receives the error of a watch that stopped on its own, the engine
// should be stopped and restarted.
func (e *Engine) Err() <-chan error {
	return e.errCh
}

// Stop stops the watches, waits for the running dispatches and closes the
// relay database. Requests interrupted by Stop are resumed by the next Start.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.cancelProcess()
		e.watches.Wait()
		e.jobs.Wait()
		if e.pool != nil {
			e.pool.Release()
		}
		e.metrics.unregister(e.cfg.Registerer)
		if err := e.db.Db.Close(); err != nil {
			log.WithError(err).Warning("relay: close database failed")
		}
		log.Info("relay: stopped")
	})
}

func (e *Engine) startBlock(ctx context.Context, watch string) (from uint64, err error) {
	number, ok, err := LoadCheckpoint(e.db, watch)
	if err != nil {
		return
	}
	if ok {
		return number + 1, nil
	}
	if e.cfg.FromBlock != nil {
		return *e.cfg.FromBlock, nil
	}
	if from, err = e.client.BlockNumber(ctx); err != nil {
		err = errors.Wrap(err, "fetch head block failed")
	}
	return
}

// recover re-dispatches the requests left in progress, the ledger decides
// whether they are still pending.
func (e *Engine) recover(ctx context.Context) (err error) {
	records, err := GetUnfinishedRequests(e.db)
	if err != nil {
		return errors.Wrap(err, "load unfinished requests failed")
	}
	for _, r := range records {
		e.seen.Add(r.RequestID, struct{}{})
		req, err := e.client.GetRequest(ctx, common.HexToHash(r.RequestID))
		switch {
		case errors.Cause(err) == types.ErrUnknownRequest:
			e.setState(r.RequestID, RequestStateSkipped, err)
		case err != nil:
			return errors.Wrapf(err, "check request %s failed", r.RequestID)
		case req.Expired(e.now().Unix()):
			e.setState(r.RequestID, RequestStateExpired, errors.New("expired before dispatch"))
		default:
			log.WithFields(log.Fields{"request": r.RequestID, "state": r.State}).Info("relay: resume request")
			e.submit(r)
		}
	}
	return nil
}

func (e *Engine) watch(name string, sub *client.Subscription, handle func([]*types.Log) error) {
	defer e.watches.Done()
	defer sub.Unsubscribe()

	le := log.WithField("watch", name)
	for {
		var (
			logs []*types.Log
			ok   bool
		)
		select {
		case <-e.processCtx.Done():
			return
		case logs, ok = <-sub.Logs():
		}
		if !ok {
			err := <-sub.Err()
			if err == nil {
				err = errors.New("subscription ended")
			}
			e.fail(name, err)
			return
		}
		if len(logs) == 0 {
			continue
		}
		e.metrics.detected.WithLabelValues(name).Add(float64(len(logs)))
		if err := handle(logs); err != nil {
			e.fail(name, err)
			return
		}
		number := logs[0].BlockNumber
		if err := SaveCheckpoint(e.db, name, number); err != nil {
			e.fail(name, err)
			return
		}
		e.metrics.checkpoint.WithLabelValues(name).Set(float64(number))
		le.WithField("block", number).Debug("relay: checkpoint saved")
	}
}

func (e *Engine) fail(watch string, err error) {
	if e.processCtx.Err() != nil {
		return
	}
	err = errors.Wrapf(err, "watch %s stopped", watch)
	log.WithError(err).Error("relay: watch failed")
	select {
	case e.errCh <- err:
	default:
	}
}

func (e *Engine) handleRequests(logs []*types.Log) error {
	for _, l := range logs {
		ev := l.OracleRequest
		if ev == nil {
			continue
		}
		id := ev.RequestID.Hex()
		if known, _ := e.seen.ContainsOrAdd(id, struct{}{}); known {
			log.WithField("request", id).Debug("relay: duplicate request ignored")
			continue
		}

		r := newRequestRecord(l)
		if types.IsExpired(ev.CancelExpiration, e.now().Unix()) {
			r.State = RequestStateExpired
			r.Error = "expired before dispatch"
		}
		d, created, err := UpsertRequest(e.db, r)
		if err != nil {
			e.seen.Remove(id)
			return err
		}
		if !created {
			log.WithFields(log.Fields{"request": id, "state": d.State}).Debug("relay: request already recorded")
			continue
		}
		e.metrics.states.WithLabelValues(d.State.String()).Inc()

		le := log.WithFields(log.Fields{
			"request":    id,
			"requester":  ev.Requester.Hex(),
			"block":      l.BlockNumber,
			"expiration": ev.CancelExpiration,
		})
		if d.State == RequestStateExpired {
			le.Info("relay: expired request dropped")
			continue
		}
		le.Info("relay: request detected")
		e.submit(d)
	}
	return nil
}

func (e *Engine) handleCallbacks(logs []*types.Log) error {
	for _, l := range logs {
		ev := l.Callbacked
		if ev == nil {
			continue
		}
		id := ev.RequestID.Hex()
		fields := log.Fields{
			"request": id,
			"success": ev.Success,
			"data":    types.DecodeResult(ev.Data),
		}
		if v, err := resultField(ev.Data); err == nil {
			fields["result"] = v
		} else {
			fields["parse_error"] = err.Error()
		}
		log.WithFields(fields).Info("relay: callback observed")

		err := e.transition(id, RequestStateFulfilled, nil, func(r *RequestRecord) {
			r.Result = ev.Data
			if ev.Success {
				r.CalleeSuccess = 1
			}
		})
		switch errors.Cause(err) {
		case nil, errTerminal:
		case sql.ErrNoRows:
			log.WithField("request", id).Debug("relay: callback of an untracked request")
		default:
			return err
		}
	}
	return nil
}

// resultField extracts the result field of a result slot document.
func resultField(slot []byte) (v interface{}, err error) {
	var doc map[string]interface{}
	if err = json.Unmarshal([]byte(types.DecodeResult(slot)), &doc); err != nil {
		return
	}
	return jsonq.NewQuery(doc).Interface("result")
}

func (e *Engine) submit(r *RequestRecord) {
	e.jobs.Add(1)
	e.metrics.inflight.Inc()
	job := func() {
		defer e.jobs.Done()
		defer e.metrics.inflight.Dec()
		e.dispatch(r)
	}
	select {
	case e.pool.JobQueue <- job:
	case <-e.processCtx.Done():
		e.metrics.inflight.Dec()
		e.jobs.Done()
	}
}

func (e *Engine) dispatch(r *RequestRecord) {
	ctx := e.processCtx
	if ctx.Err() != nil {
		return
	}
	id := common.HexToHash(r.RequestID)
	le := log.WithField("request", r.RequestID)

	if err := e.transition(r.RequestID, RequestStateDispatching, nil, nil); err != nil {
		if errors.Cause(err) != errTerminal {
			le.WithError(err).Error("relay: start dispatch failed")
		}
		return
	}

	tm := timer.NewTimer()
	defer tm.ObserveTo(e.metrics.phases)

	slot, err := e.compute.Compute(ctx, r.Event.Data)
	tm.Add("compute")
	if err != nil {
		if ctx.Err() != nil {
			le.Info("relay: dispatch interrupted")
			return
		}
		le.WithError(err).Warning("relay: compute failed")
		e.setState(r.RequestID, RequestStateFailed, err)
		return
	}

	var receipt *types.Receipt
	op := func() (err error) {
		cctx, cancel := context.WithTimeout(ctx, e.cfg.CallbackTimeout)
		defer cancel()
		receipt, err = e.client.Callback(cctx, id, slot)
		cause := errors.Cause(err)
		if types.IsRejection(err) || cause == client.ErrClosed || cause == client.ErrNoKey {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		le.WithError(err).WithField("wait", wait).Warning("relay: callback attempt failed")
	}
	err = backoff.RetryNotify(op, e.backOff(ctx), notify)
	tm.Add("callback")

	switch cause := errors.Cause(err); {
	case err == nil:
		le.WithFields(tm.ToLogFields()).WithFields(log.Fields{
			"tx":     receipt.TxHash.Hex(),
			"result": types.DecodeResult(slot),
		}).Info("relay: callback sent")
		_ = e.transition(r.RequestID, RequestStateDispatched, nil, func(d *RequestRecord) {
			d.Result = slot
			d.CallbackTx = receipt.TxHash.Hex()
		})
	case ctx.Err() != nil, cause == client.ErrClosed:
		le.WithError(err).Info("relay: dispatch interrupted")
	case cause == types.ErrUnknownRequest:
		le.WithError(err).Info("relay: request no longer pending")
		e.setState(r.RequestID, RequestStateSkipped, err)
	default:
		le.WithError(err).Warning("relay: callback failed")
		e.setState(r.RequestID, RequestStateFailed, err)
	}
}

func (e *Engine) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.RetryInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, e.cfg.MaxRetries), ctx)
}

var errTerminal = errors.New("request already in a terminal state")

// transition moves a stored request to s. Fulfilled is final, and only
// unfinished requests start a dispatch.
func (e *Engine) transition(id string, s RequestState, cause error, mutate func(*RequestRecord)) (err error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	r, err := GetRequest(e.db, id)
	if err != nil {
		return
	}
	if r.State == RequestStateFulfilled {
		// the Callbacked event may be observed before the callback returns
		if s == RequestStateDispatched && mutate != nil {
			mutate(r)
			_, err = e.db.Update(r)
			return
		}
		return errTerminal
	}
	if s == RequestStateDispatching {
		if r.State.Terminal() {
			return errTerminal
		}
		r.Attempts++
	}
	if mutate != nil {
		mutate(r)
	}
	if err = SetRequestState(e.db, r, s, cause); err != nil {
		return
	}
	e.metrics.states.WithLabelValues(s.String()).Inc()
	log.WithFields(log.Fields{"request": id, "state": s, "attempts": r.Attempts}).Debug("relay: request state changed")
	return
}

func (e *Engine) setState(id string, s RequestState, cause error) {
	if err := e.transition(id, s, cause, nil); err != nil && errors.Cause(err) != errTerminal {
		log.WithFields(log.Fields{"request": id, "state": s}).WithError(err).Error("relay: update request failed")
	}
}

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
	"encoding/json"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/dghubble/sling"
	"github.com/pkg/errors"

	"github.com/CovenantSQL/cql-oracle/types"
	"github.com/CovenantSQL/cql-oracle/utils/log"
)

// ComputePath is the compute engine endpoint requests are posted to.
const ComputePath = "compute"

// Compute engine errors.
var (
	// ErrComputeRejected indicates a 4xx response of the compute engine.
	ErrComputeRejected = errors.New("compute engine rejected the request")
	// ErrComputeUnavailable indicates a 5xx response of the compute engine.
	ErrComputeUnavailable = errors.New("compute engine unavailable")
)

// ComputeClient posts request payloads to the compute engine.
type ComputeClient struct {
	base       *sling.Sling
	maxRetries uint64
	interval   time.Duration
}

// NewComputeClient returns a client of the compute engine at baseURL.
func NewComputeClient(baseURL string, timeout time.Duration, maxRetries uint64, interval time.Duration) *ComputeClient {
	if len(baseURL) > 0 && baseURL[len(baseURL)-1] != '/' {
		baseURL += "/"
	}
	return &ComputeClient{
		base:       sling.New().Client(&http.Client{Timeout: timeout}).Base(baseURL),
		maxRetries: maxRetries,
		interval:   interval,
	}
}

// Compute posts payload and returns the result slot built from the response.
// Transport errors and 5xx responses are retried, a 4xx response, a non-JSON
// response or a result larger than the slot are returned at once.
func (c *ComputeClient) Compute(ctx context.Context, payload []byte) (slot []byte, err error) {
	if !json.Valid(payload) {
		return nil, errors.Wrap(types.ErrMalformedJSON, "request data")
	}

	var doc json.RawMessage
	op := func() (err error) {
		doc, err = c.post(ctx, payload)
		return
	}
	notify := func(err error, wait time.Duration) {
		log.WithError(err).WithField("wait", wait).Warning("relay: compute attempt failed")
	}
	if err = backoff.RetryNotify(op, c.backOff(ctx), notify); err != nil {
		return
	}
	return types.EncodeResult(doc)
}

func (c *ComputeClient) post(ctx context.Context, payload []byte) (doc json.RawMessage, err error) {
	req, err := c.base.New().Post(ComputePath).BodyJSON(json.RawMessage(payload)).Request()
	if err != nil {
		return nil, backoff.Permanent(errors.Wrap(err, "build compute request failed"))
	}
	resp, err := c.base.Do(req.WithContext(ctx), &doc, nil)
	if resp == nil {
		if err == nil {
			err = errors.New("empty response")
		}
		return nil, errors.Wrap(err, "compute request failed")
	}
	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, errors.Wrapf(ErrComputeUnavailable, "status %d", resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, backoff.Permanent(errors.Wrapf(ErrComputeRejected, "status %d", resp.StatusCode))
	case err != nil:
		return nil, backoff.Permanent(errors.Wrap(types.ErrMalformedJSON, err.Error()))
	}
	return
}

func (c *ComputeClient) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.interval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx)
}

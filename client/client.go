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

// Package client talks to an oracle node over its JSON-RPC websocket API.
package client

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/sourcegraph/jsonrpc2"

	"github.com/CovenantSQL/cql-oracle/api"
	"github.com/CovenantSQL/cql-oracle/rpc/jsonrpc"
	"github.com/CovenantSQL/cql-oracle/types"
	"github.com/CovenantSQL/cql-oracle/utils/log"
)

// Client is a connection to an oracle node. Transactions are signed with the
// client key, reads need no key.
type Client struct {
	conn    *jsonrpc2.Conn
	key     *ecdsa.PrivateKey
	address common.Address
	chainID uint64

	// serializes nonce assignment of sent transactions
	nonceLock sync.Mutex

	subsLock sync.Mutex
	subs     map[string]*Subscription
}

// Dial connects to the websocket endpoint of a node, e.g. ws://127.0.0.1:8546/ws.
func Dial(ctx context.Context, endpoint string, key *ecdsa.PrivateKey) (c *Client, err error) {
	c = &Client{
		key:  key,
		subs: make(map[string]*Subscription),
	}
	if key != nil {
		c.address = crypto.PubkeyToAddress(key.PublicKey)
	}
	if c.conn, err = jsonrpc.Dial(ctx, endpoint, jsonrpc2.HandlerWithError(c.handle)); err != nil {
		return nil, err
	}
	if err = c.call(ctx, api.MethodChainID, &c.chainID); err != nil {
		_ = c.conn.Close()
		return nil, errors.Wrap(err, "fetch chain id failed")
	}
	go c.watch()
	return
}

// Close closes the connection and ends every subscription.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Address returns the address of the client key.
func (c *Client) Address() common.Address {
	return c.address
}

func (c *Client) call(ctx context.Context, method string, result interface{}, params ...interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	return mapError(c.conn.Call(ctx, method, params, result))
}

// handle routes subscription notifications, it runs on the read loop and
// never blocks.
func (c *Client) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (
	result interface{}, err error,
) {
	if req.Method != api.NotificationSubscription || req.Params == nil {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound}
	}
	var notice api.SubscriptionNotice
	if err = json.Unmarshal(*req.Params, &notice); err != nil {
		log.WithError(err).Warn("client: malformed subscription notice")
		return
	}
	c.subsLock.Lock()
	sub, ok := c.subs[notice.Subscription]
	c.subsLock.Unlock()
	if ok {
		sub.push(notice.Logs)
	}
	return
}

func (c *Client) watch() {
	<-c.conn.DisconnectNotify()
	c.subsLock.Lock()
	subs := c.subs
	c.subs = make(map[string]*Subscription)
	c.subsLock.Unlock()
	for _, sub := range subs {
		sub.fail(ErrClosed)
	}
}

// SendTransaction signs a transaction of kind carrying args and applies it
// with the next account nonce.
func (c *Client) SendTransaction(ctx context.Context, kind types.TxKind, value *big.Int, args interface{}) (
	receipt *types.Receipt, err error,
) {
	if c.key == nil {
		return nil, ErrNoKey
	}
	c.nonceLock.Lock()
	defer c.nonceLock.Unlock()

	nonce, err := c.Nonce(ctx, c.address)
	if err != nil {
		return
	}
	tx, err := types.NewTransaction(c.chainID, kind, nonce, value, args)
	if err != nil {
		return
	}
	if err = tx.Sign(c.key); err != nil {
		return nil, errors.Wrap(err, "sign transaction failed")
	}
	raw, err := tx.Serialize()
	if err != nil {
		return nil, errors.Wrap(err, "serialize transaction failed")
	}
	receipt = new(types.Receipt)
	if err = c.call(ctx, api.MethodSendRawTransaction, receipt, hexutil.Bytes(raw)); err != nil {
		return nil, err
	}
	return
}

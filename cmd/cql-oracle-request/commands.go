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

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/CovenantSQL/cql-oracle/client"
	"github.com/CovenantSQL/cql-oracle/conf"
	"github.com/CovenantSQL/cql-oracle/types"
)

var (
	computeData     string
	computeCallback string
	computeSelector string
	computeWindow   time.Duration
	computeValue    string
	computeWait     time.Duration

	requestID string
	newPrice  string
)

// CmdCompute is the compute command entity.
var CmdCompute = &Command{
	UsageLine: "compute [-data json] [-callback address] [-selector 0x00000000] [-window duration] [-value amount] [-wait duration]",
	Short:     "submit a compute request",
	Long: `
Compute pays for a computation and prints the receipt. Unset flags fall back
to the Request section of the config, the payment defaults to the call price
plus one wei, the excess being refunded.
e.g.
    cql-oracle-request compute -data '{"numbers":[1,2],"ast":{"type":"variable","index":1}}' -wait 1m
`,
}

// CmdCancel is the cancel command entity.
var CmdCancel = &Command{
	UsageLine: "cancel -id request_id",
	Short:     "cancel an expired request and get refunded",
	Long: `
Cancel withdraws a pending request of yours once its cancel expiration has
passed, the call price is refunded.
`,
}

// CmdStatus is the status command entity.
var CmdStatus = &Command{
	UsageLine: "status -id request_id",
	Short:     "show the status of a request",
	Long: `
Status prints whether a request is pending, fulfilled (with its result) or
cancelled.
`,
}

// CmdPrice is the price command entity.
var CmdPrice = &Command{
	UsageLine: "price",
	Short:     "show the call price in wei",
	Long: `
Price prints the current call price in wei.
`,
}

// CmdSetPrice is the set-price command entity.
var CmdSetPrice = &Command{
	UsageLine: "set-price -price amount",
	Short:     "change the call price, owner only",
	Long: `
Set-price changes the price of the next compute requests. The amount accepts
units, e.g. "0.02 ether".
`,
}

func init() {
	CmdCompute.Run = runCompute
	CmdCompute.Flag.StringVar(&computeData, "data", "", "Request payload, a JSON document")
	CmdCompute.Flag.StringVar(&computeCallback, "callback", "", "Callback address")
	CmdCompute.Flag.StringVar(&computeSelector, "selector", "", "Callback function id")
	CmdCompute.Flag.DurationVar(&computeWindow, "window", 0, "Time before the request may be cancelled")
	CmdCompute.Flag.StringVar(&computeValue, "value", "", "Payment, call price plus one wei when empty")
	CmdCompute.Flag.DurationVar(&computeWait, "wait", 0, "Wait up to this long for the callback")

	CmdCancel.Run = runCancel
	CmdCancel.Flag.StringVar(&requestID, "id", "", "Request id")

	CmdStatus.Run = runStatus
	CmdStatus.Flag.StringVar(&requestID, "id", "", "Request id")

	CmdPrice.Run = runPrice

	CmdSetPrice.Run = runSetPrice
	CmdSetPrice.Flag.StringVar(&newPrice, "price", "", "New call price")
}

func computeOptionsFromFlags(rc *conf.RequestConfig) (opts *computeOptions, err error) {
	opts = &computeOptions{
		Data:         rc.Data,
		CallbackAddr: rc.CallbackAddr,
		Selector:     rc.CallbackFunctionID,
		Window:       rc.ExpirationWindow,
	}
	if computeData != "" {
		opts.Data = computeData
	}
	if computeCallback != "" {
		if !common.IsHexAddress(computeCallback) {
			return nil, errors.Errorf("invalid callback address %q", computeCallback)
		}
		opts.CallbackAddr = common.HexToAddress(computeCallback)
	}
	if computeSelector != "" {
		if opts.Selector, err = types.HexToSelector(computeSelector); err != nil {
			return nil, errors.Wrap(err, "invalid selector")
		}
	}
	if computeWindow != 0 {
		opts.Window = computeWindow
	}
	if computeValue != "" {
		if opts.Value, err = conf.ParseWei(computeValue); err != nil {
			return nil, err
		}
	}
	return
}

func parseRequestID(cmd *Command) common.Hash {
	b := common.FromHex(requestID)
	if len(b) != common.HashLength {
		cmd.Usage()
	}
	return common.BytesToHash(b)
}

func runCompute(cmd *Command, args []string) {
	run(func(ctx context.Context, rc *conf.RequestConfig, c *client.Client) error {
		opts, err := computeOptionsFromFlags(rc)
		if err != nil {
			return err
		}
		receipt, err := submitCompute(ctx, c, opts, time.Now())
		if err != nil {
			return err
		}
		printJSON(receipt)
		if computeWait <= 0 {
			return nil
		}
		wctx, cancel := context.WithTimeout(ctx, computeWait)
		defer cancel()
		ev, err := waitCallback(wctx, c, *receipt.RequestID, receipt.BlockNumber)
		if err != nil {
			return err
		}
		printJSON(&RequestStatus{
			RequestID: ev.RequestID,
			Status:    StatusFulfilled,
			Callback:  ev,
			Result:    types.DecodeResult(ev.Data),
		})
		return nil
	})
}

func runCancel(cmd *Command, args []string) {
	id := parseRequestID(cmd)
	run(func(ctx context.Context, rc *conf.RequestConfig, c *client.Client) error {
		receipt, err := c.CancelCompute(ctx, id)
		if err != nil {
			return err
		}
		printJSON(receipt)
		return nil
	})
}

func runStatus(cmd *Command, args []string) {
	id := parseRequestID(cmd)
	run(func(ctx context.Context, rc *conf.RequestConfig, c *client.Client) error {
		s, err := requestStatus(ctx, c, id)
		if err != nil {
			return err
		}
		printJSON(s)
		return nil
	})
}

func runPrice(cmd *Command, args []string) {
	run(func(ctx context.Context, rc *conf.RequestConfig, c *client.Client) error {
		price, err := c.CallPrice(ctx)
		if err != nil {
			return err
		}
		fmt.Println(price.String())
		return nil
	})
}

func runSetPrice(cmd *Command, args []string) {
	if newPrice == "" {
		cmd.Usage()
	}
	price, err := conf.ParseWei(newPrice)
	if err != nil {
		fmt.Println(err)
		cmd.Usage()
	}
	run(func(ctx context.Context, rc *conf.RequestConfig, c *client.Client) error {
		receipt, err := c.SetCallPrice(ctx, price)
		if err != nil {
			return err
		}
		printJSON(receipt)
		return nil
	})
}

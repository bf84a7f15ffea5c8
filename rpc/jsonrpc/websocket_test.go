package jsonrpc_test

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/sourcegraph/jsonrpc2"

	"github.com/CovenantSQL/cql-oracle/rpc/jsonrpc"
)

var (
	echoHandler = func(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (
		result interface{}, err error,
	) {
		return req.Params, nil
	}

	incHandler = func(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (
		result interface{}, err error,
	) {
		params := jsonrpc.Params(ctx).(*incPayload)
		return params.Number + 1, nil
	}

	errSentinel = errors.New("sentinel")

	failHandler = func(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (
		result interface{}, err error,
	) {
		return nil, errSentinel
	}

	panicHandler = func(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (
		result interface{}, err error,
	) {
		panic("boom")
	}
)

type incPayload struct {
	Number int `json:"number"`
}

func (p *incPayload) Validate() error {
	if p.Number < 0 {
		return errors.New("invalid number")
	}
	return nil
}

type namePayload struct {
	Name string `json:"name" validate:"required,max=8"`
}

func TestRegisterMethod(t *testing.T) {
	Convey("RegisterMethod", t, func() {
		h := jsonrpc.NewHandler()
		So(func() { h.RegisterMethod("echo", echoHandler, nil) }, ShouldNotPanic)
		So(func() { h.RegisterMethod("inc", incHandler, incPayload{}) }, ShouldNotPanic)
		So(func() { h.RegisterMethod("another_inc", incHandler, new(incPayload)) }, ShouldNotPanic)
		So(func() { h.RegisterMethod("echo", echoHandler, nil) }, ShouldPanic)
		So(h.Methods(), ShouldResemble, []string{"another_inc", "echo", "inc"})
	})
}

func TestWebsocketHandler(t *testing.T) {
	Convey("Websocket Serve Integration (handlers, middlewares)", t, func() {
		h := jsonrpc.NewHandler()
		h.RegisterMethod("echo", echoHandler, nil)
		h.RegisterMethod("inc", incHandler, incPayload{})
		h.RegisterMethod("name", echoHandler, namePayload{})
		h.RegisterMethod("fail", failHandler, nil)
		h.RegisterMethod("panic", panicHandler, nil)
		h.MapError = func(err error) error {
			if err == errSentinel {
				return &jsonrpc2.Error{Code: -32099, Message: err.Error()}
			}
			return err
		}

		conns := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_connections"})
		ws := jsonrpc.NewWebsocketHandler(h)
		ws.Connections = conns
		server := httptest.NewServer(ws)
		Reset(server.Close)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		client, err := jsonrpc.Dial(ctx, "ws"+strings.TrimPrefix(server.URL, "http"), nil)
		So(err, ShouldBeNil)
		Reset(func() { _ = client.Close() })

		var testCases = []struct {
			name           string
			method         string
			params         interface{}
			expectedCode   int64
			expectedResult interface{}
		}{
			{
				name:         "unknown method should not be found",
				method:       "unknown",
				params:       []interface{}{},
				expectedCode: jsonrpc2.CodeMethodNotFound,
			},
			{
				name:         "nil params are rejected",
				method:       "echo",
				params:       nil,
				expectedCode: jsonrpc2.CodeInvalidParams,
			},
			{
				name:           "echo method should work",
				method:         "echo",
				params:         "hello",
				expectedResult: "hello",
			},
			{
				name:           "inc method should work",
				method:         "inc",
				params:         []interface{}{10},
				expectedResult: float64(11),
			},
			{
				name:         "inc method should fail on invalid payload (unmarshal error)",
				method:       "inc",
				params:       []interface{}{"not a number"},
				expectedCode: jsonrpc2.CodeInvalidParams,
			},
			{
				name:         "inc method should fail on invalid payload (incorrect fields)",
				method:       "inc",
				params:       []interface{}{10, 11},
				expectedCode: jsonrpc2.CodeInvalidParams,
			},
			{
				name:         "inc method should fail on invalid payload (validation error)",
				method:       "inc",
				params:       []interface{}{-1},
				expectedCode: jsonrpc2.CodeInvalidParams,
			},
			{
				name:         "struct tags are validated",
				method:       "name",
				params:       []interface{}{"much too long"},
				expectedCode: jsonrpc2.CodeInvalidParams,
			},
			{
				name:         "errors are mapped",
				method:       "fail",
				params:       []interface{}{},
				expectedCode: -32099,
			},
		}

		for i, c := range testCases {
			Convey(fmt.Sprintf("case#%d: %s", i, c.name), FailureContinues, func() {
				var result interface{}
				err := client.Call(ctx, c.method, c.params, &result)
				if c.expectedCode != 0 {
					So(err, ShouldNotBeNil)
					rpcErr, ok := err.(*jsonrpc2.Error)
					So(ok, ShouldBeTrue)
					So(rpcErr.Code, ShouldEqual, c.expectedCode)
				} else {
					So(err, ShouldBeNil)
					So(result, ShouldResemble, c.expectedResult)
				}
			})
		}

		Convey("panics are recovered", func() {
			var result interface{}
			err := client.Call(ctx, "panic", []interface{}{}, &result)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "boom")
		})
	})
}

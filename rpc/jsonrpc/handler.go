package jsonrpc

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/CovenantSQL/cql-oracle/utils/log"
)

// HandlerFunc is a function adapter to Handler.
type HandlerFunc func(context.Context, *jsonrpc2.Conn, *jsonrpc2.Request) (interface{}, error)

// ErrorMapper converts a handler error to the error sent to the peer.
type ErrorMapper func(err error) error

// Handler is a handler handling JSON-RPC protocol.
type Handler struct {
	methods map[string]HandlerFunc

	// MapError, when set, rewrites every error returned by a method.
	MapError ErrorMapper
}

// NewHandler creates a new JSONRPCHandler.
func NewHandler() *Handler {
	return &Handler{
		methods: make(map[string]HandlerFunc),
	}
}

// RegisterMethod register a method. A non-nil paramsType declares the struct
// the positional params are decoded into, handlers read it with Params.
func (h *Handler) RegisterMethod(method string, handlerFunc HandlerFunc, paramsType interface{}) {
	if _, ok := h.methods[method]; ok {
		panic(fmt.Sprintf("method %q already registered", method))
	}
	log.WithField("method", method).Debug("jsonrpc: register method")

	if paramsType == nil {
		h.methods[method] = handlerFunc
		return
	}

	// Pre-process rpc parameters with a middleware
	typ := reflect.TypeOf(paramsType)
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}

	h.methods[method] = processParams(handlerFunc, typ)
}

// Methods returns the sorted names of the registered methods.
func (h *Handler) Methods() (methods []string) {
	for m := range h.methods {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return
}

// Handle implements jsonrpc2.Handler.
func (h *Handler) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if req.Notif {
		// peers never expect replies to notifications
		return
	}
	jsonrpc2.HandlerWithError(h.handle).Handle(ctx, conn, req)
}

// handle is a function to be used by jsonrpc2.Handler.
func (h *Handler) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (
	result interface{}, err error,
) {
	defer func() {
		if p := recover(); p != nil {
			switch p := p.(type) {
			case error:
				err = p
			default:
				err = fmt.Errorf("%v", p)
			}
			log.WithField("method", req.Method).WithError(err).Error("jsonrpc: method panicked")
		}
		if err != nil && h.MapError != nil {
			err = h.MapError(err)
		}
	}()

	fn := h.methods[req.Method]
	if fn == nil {
		return nil, &jsonrpc2.Error{
			Code:    jsonrpc2.CodeMethodNotFound,
			Message: fmt.Sprintf("method not found: %q", req.Method),
		}
	} else if req.Params == nil {
		// pre-check req.Params not be nil
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "missing params"}
	}

	return fn(ctx, conn, req)
}

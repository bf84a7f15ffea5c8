package jsonrpc

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sourcegraph/jsonrpc2"
	wsstream "github.com/sourcegraph/jsonrpc2/websocket"

	"github.com/CovenantSQL/cql-oracle/utils/log"
)

// WebsocketHandler upgrades http requests and serves JSON-RPC on each connection.
type WebsocketHandler struct {
	RPCHandler jsonrpc2.Handler
	// Connections tracks the open connections when set.
	Connections prometheus.Gauge

	upgrader websocket.Upgrader
	lock     sync.Mutex
	conns    map[*jsonrpc2.Conn]struct{}
}

// NewWebsocketHandler returns a websocket handler dispatching to h.
func NewWebsocketHandler(h jsonrpc2.Handler) *WebsocketHandler {
	return &WebsocketHandler{
		RPCHandler: h,
		upgrader:   websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		conns:      make(map[*jsonrpc2.Conn]struct{}),
	}
}

// ServeHTTP implements http.Handler.
func (ws *WebsocketHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	conn, err := ws.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		log.WithError(err).Error("jsonrpc: upgrade http connection to websocket failed")
		http.Error(rw, errors.WithMessage(err, "could not upgrade to websocket").Error(), http.StatusBadRequest)
		return
	}
	defer conn.Close()

	if ws.Connections != nil {
		ws.Connections.Inc()
		defer ws.Connections.Dec()
	}
	log.WithField("remote", r.RemoteAddr).Debug("jsonrpc: connection accepted")
	rpcConn := jsonrpc2.NewConn(
		context.Background(),
		wsstream.NewObjectStream(conn),
		ws.RPCHandler,
	)
	ws.lock.Lock()
	ws.conns[rpcConn] = struct{}{}
	ws.lock.Unlock()

	<-rpcConn.DisconnectNotify()

	ws.lock.Lock()
	delete(ws.conns, rpcConn)
	ws.lock.Unlock()
	log.WithField("remote", r.RemoteAddr).Debug("jsonrpc: connection closed")
}

// CloseAll closes every open connection.
func (ws *WebsocketHandler) CloseAll() {
	ws.lock.Lock()
	conns := make([]*jsonrpc2.Conn, 0, len(ws.conns))
	for c := range ws.conns {
		conns = append(conns, c)
	}
	ws.lock.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

// Dial connects to a JSON-RPC websocket endpoint, h receives the requests and
// notifications sent by the server and may be nil.
func Dial(ctx context.Context, url string, h jsonrpc2.Handler) (conn *jsonrpc2.Conn, err error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s failed", url)
	}
	if h == nil {
		h = noopHandler{}
	}
	return jsonrpc2.NewConn(context.Background(), wsstream.NewObjectStream(ws), h), nil
}

type noopHandler struct{}

func (noopHandler) Handle(context.Context, *jsonrpc2.Conn, *jsonrpc2.Request) {}

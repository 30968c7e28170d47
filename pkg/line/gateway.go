package line

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tinyland-inc/linecord/pkg/logger"
)

// ErrGatewayClosed is returned for calls pending or issued after the
// gateway connection went away.
var ErrGatewayClosed = errors.New("line gateway connection closed")

// Frame is the single JSON shape exchanged with the LINE gateway. Requests
// carry ID and Method, responses carry ID and Result or Error, and
// unsolicited events carry Event and Data.
type Frame struct {
	ID     uint64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
	Event  string          `json:"event,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type RPCError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// Event is an unsolicited gateway notification.
type Event struct {
	Name string
	Data json.RawMessage
}

const (
	EventReady           = "ready"
	EventPincall         = "pincall"
	EventAuthTokenUpdate = "update:authtoken"
	EventSquareMessage   = "square:message"

	methodLogin          = "login"
	methodGetMessageData = "get_message_obs_data"
)

type callResult struct {
	result json.RawMessage
	err    error
}

// Gateway is one websocket connection to the LINE gateway sidecar.
type Gateway struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	nextID     atomic.Uint64
	callbacks  map[uint64]chan callResult
	callbackMu sync.Mutex

	events chan Event
	done   chan struct{}
	once   sync.Once
	err    error
}

// DialGateway connects to the gateway at url and starts reading frames.
func DialGateway(ctx context.Context, url string, header http.Header) (*Gateway, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
		Proxy:            http.ProxyFromEnvironment,
	}
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dialing line gateway: %w", err)
	}

	g := &Gateway{
		conn:      conn,
		callbacks: make(map[uint64]chan callResult),
		events:    make(chan Event, 64),
		done:      make(chan struct{}),
	}
	go g.readFrames()
	return g, nil
}

// Events delivers gateway events in arrival order. The channel is closed
// when the connection ends.
func (g *Gateway) Events() <-chan Event { return g.events }

// Done is closed when the connection ends.
func (g *Gateway) Done() <-chan struct{} { return g.done }

// Err returns why the connection ended, once Done is closed.
func (g *Gateway) Err() error {
	select {
	case <-g.done:
		return g.err
	default:
		return nil
	}
}

// Call sends a request and decodes the response result into out.
func (g *Gateway) Call(ctx context.Context, method string, params, out any) error {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	id := g.nextID.Add(1)
	ch := make(chan callResult, 1)

	g.callbackMu.Lock()
	g.callbacks[id] = ch
	g.callbackMu.Unlock()
	defer func() {
		g.callbackMu.Lock()
		delete(g.callbacks, id)
		g.callbackMu.Unlock()
	}()

	if err := g.write(Frame{ID: id, Method: method, Params: rawParams}); err != nil {
		return err
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return res.err
		}
		if out == nil || len(res.result) == 0 {
			return nil
		}
		if err := json.Unmarshal(res.result, out); err != nil {
			return fmt.Errorf("failed to unmarshal %s result: %w", method, err)
		}
		return nil
	case <-g.done:
		return ErrGatewayClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) Close() error {
	g.writeMu.Lock()
	_ = g.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	g.writeMu.Unlock()
	err := g.conn.Close()
	g.shutdown(ErrGatewayClosed)
	return err
}

func (g *Gateway) write(f Frame) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	select {
	case <-g.done:
		return ErrGatewayClosed
	default:
	}
	if err := g.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("failed to write %s request: %w", f.Method, err)
	}
	return nil
}

func (g *Gateway) readFrames() {
	defer close(g.events)
	for {
		var f Frame
		if err := g.conn.ReadJSON(&f); err != nil {
			g.shutdown(err)
			return
		}

		if f.Event != "" {
			select {
			case g.events <- Event{Name: f.Event, Data: f.Data}:
			case <-g.done:
				return
			}
			continue
		}

		g.callbackMu.Lock()
		ch, ok := g.callbacks[f.ID]
		g.callbackMu.Unlock()
		if !ok {
			logger.DebugCF("line", "Dropping response for unknown request", map[string]any{"id": f.ID})
			continue
		}
		if f.Error != nil {
			ch <- callResult{err: f.Error}
		} else {
			ch <- callResult{result: f.Result}
		}
	}
}

func (g *Gateway) shutdown(err error) {
	g.once.Do(func() {
		g.err = err
		close(g.done)
	})
}

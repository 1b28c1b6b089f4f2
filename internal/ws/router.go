package ws

import (
	"encoding/json"
	"fmt"
	"runtime/debug"

	"github.com/griffithind/dockge/internal/errors"
	"github.com/griffithind/dockge/internal/util"
)

// Handler processes one client request. The returned value is merged
// into the {ok:true} reply; returning an error produces {ok:false,msg}.
type Handler func(c *Conn, args []json.RawMessage) (map[string]any, error)

// Router maps event names to handlers and enforces the auth guard.
type Router struct {
	handlers map[string]Handler
	public   map[string]bool
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{
		handlers: make(map[string]Handler),
		public:   make(map[string]bool),
	}
}

// Handle registers a handler requiring authentication.
func (r *Router) Handle(event string, h Handler) {
	r.handlers[event] = h
}

// HandlePublic registers a handler reachable before login.
func (r *Router) HandlePublic(event string, h Handler) {
	r.handlers[event] = h
	r.public[event] = true
}

// Dispatch runs the handler for a frame and delivers the reply. A
// handler failure never kills the connection.
func (r *Router) Dispatch(c *Conn, f Frame) {
	reply := r.invoke(c, f)
	c.SendAck(f.Ack, reply)
}

// invoke produces the reply object for a request frame.
func (r *Router) invoke(c *Conn, f Frame) (reply map[string]any) {
	defer func() {
		if rec := recover(); rec != nil {
			util.Error("handler %s panicked: %v\n%s", f.Event, rec, debug.Stack())
			reply = ErrorReply(fmt.Errorf("internal error"))
		}
	}()

	h, ok := r.handlers[f.Event]
	if !ok {
		return ErrorReply(errors.Newf(errors.CategoryValidation, errors.CodeInvalidArgument,
			"Unknown event: %s", f.Event))
	}
	if !r.public[f.Event] && !c.Authenticated() {
		return ErrorReply(errors.NotLoggedIn())
	}

	data, err := h(c, f.Args)
	if err != nil {
		util.Debug("event %s failed: %v", f.Event, err)
		return ErrorReply(err)
	}
	return OKReply(data)
}

// Call runs the handler for an event directly and returns its reply,
// bypassing the ack plumbing. Federation routing uses this for local
// dispatch.
func (r *Router) Call(c *Conn, event string, args []json.RawMessage) map[string]any {
	return r.invoke(c, Frame{Event: event, Args: args})
}

// OKReply builds {ok:true} merged with extra reply fields.
func OKReply(data map[string]any) map[string]any {
	reply := map[string]any{"ok": true}
	for k, v := range data {
		reply[k] = v
	}
	return reply
}

// ErrorReply builds {ok:false, msg}.
func ErrorReply(err error) map[string]any {
	return map[string]any{"ok": false, "msg": errors.MessageFor(err)}
}

// DecodeArgs unmarshals positional arguments into the given pointers.
// Missing trailing arguments leave their targets at zero values.
func DecodeArgs(args []json.RawMessage, targets ...any) error {
	for i, target := range targets {
		if i >= len(args) || len(args[i]) == 0 {
			continue
		}
		if err := json.Unmarshal(args[i], target); err != nil {
			return errors.Wrapf(err, errors.CategoryValidation, errors.CodeInvalidArgument,
				"invalid argument %d", i)
		}
	}
	return nil
}

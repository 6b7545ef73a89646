// Package router compiles smart-socket request patterns and resolves
// incoming service strings to the handler that should process them, binding
// the dispatching session and any placeholder captures into the handler's
// context so it need not be passed explicitly.
package router

import (
	"context"
	"strings"
)

// Disposition is the post-response fate of the connection a handler was
// invoked on.
type Disposition int

const (
	// Close ends the connection after the response is written.
	Close Disposition = iota
	// KeepAlive allows another request to be read on the same connection.
	KeepAlive
	// Bidirectional means the handler has already taken over the connection
	// and the engine must not write anything after it returns.
	Bidirectional
)

// Response is what a Handler returns to describe how the engine should
// respond. The zero value means "OK with no body, then close".
type Response struct {
	Fail        bool
	Body        []byte
	FailMsg     string
	Disposition Disposition
}

// OK returns a bare acceptance with no body and CLOSE disposition.
func OK() Response { return Response{} }

// OKBody returns an acceptance carrying body, with CLOSE disposition.
func OKBody(body []byte) Response { return Response{Body: body} }

// KeepAliveOK returns a bare acceptance that keeps the connection open for
// another request.
func KeepAliveOK() Response { return Response{Disposition: KeepAlive} }

// Fail returns a rejection carrying msg.
func Fail(msg string) Response { return Response{Fail: true, FailMsg: msg} }

// Taken returns a response signalling that the handler already owns the
// connection (BIDIRECTIONAL); the engine writes nothing further.
func Taken() Response { return Response{Disposition: Bidirectional} }

// Handler processes one dispatched request. It reads placeholder captures
// and the current session from ctx via Arg and SessionValue (or its typed
// wrapper session.Current).
type Handler func(ctx context.Context) (Response, error)

// RouteProvider lets an object register every one of its routed methods in
// one call to RegisterObject.
type RouteProvider interface {
	Routes() map[string]Handler
}

type segment struct {
	literal     string
	placeholder string // non-empty if this segment is a <name> capture
}

type route struct {
	pattern  string
	segments []segment
	literals int // number of literal segments, used to break ties
	order    int
	handler  Handler
}

// Router is a build-once, read-many table of compiled patterns. It is safe
// for concurrent read access once registration is finished; Register itself
// is not safe to call concurrently with Resolve.
type Router struct {
	routes []*route
	index  map[string]int // pattern -> its slot in routes, for override-in-place
}

// New creates an empty Router.
func New() *Router {
	return &Router{index: map[string]int{}}
}

// Register compiles pattern and associates it with handler. Registering the
// same pattern string again replaces the earlier route in place, so a later
// registration always overrides an earlier one for that exact pattern.
// Registration order otherwise only breaks ties among distinct patterns
// with equal literal-segment counts, where the earlier registration wins.
func (rt *Router) Register(pattern string, handler Handler) {
	if i, ok := rt.index[pattern]; ok {
		rt.routes[i] = compile(pattern, handler, rt.routes[i].order)
		return
	}
	order := len(rt.routes)
	rt.routes = append(rt.routes, compile(pattern, handler, order))
	rt.index[pattern] = order
}

// RegisterObject enrolls every route obj.Routes() declares.
func (rt *Router) RegisterObject(obj RouteProvider) {
	for pattern, handler := range obj.Routes() {
		rt.Register(pattern, handler)
	}
}

func compile(pattern string, handler Handler, order int) *route {
	parts := strings.Split(pattern, ":")
	segs := make([]segment, len(parts))
	literals := 0
	for i, p := range parts {
		if len(p) > 2 && p[0] == '<' && p[len(p)-1] == '>' {
			segs[i] = segment{placeholder: p[1 : len(p)-1]}
		} else {
			segs[i] = segment{literal: p}
			literals++
		}
	}
	return &route{pattern: pattern, segments: segs, literals: literals, order: order, handler: handler}
}

// ErrNoMatch is the FAIL message written when no route resolves a request,
// per the smart-socket protocol.
const ErrNoMatch = "unsupported operation"

// Resolve finds the best match for req among registered routes. It returns
// the matched handler, the placeholder captures, and ok=false if nothing
// matches.
func (rt *Router) Resolve(req string) (Handler, map[string]string, bool) {
	parts := strings.Split(req, ":")

	var best *route
	for _, r := range rt.routes {
		if !r.matches(parts) {
			continue
		}
		if best == nil || betterMatch(r, best) {
			best = r
		}
	}
	if best == nil {
		return nil, nil, false
	}
	return best.handler, best.capture(parts), true
}

func (r *route) matches(parts []string) bool {
	if len(parts) != len(r.segments) {
		return false
	}
	for i, seg := range r.segments {
		if seg.placeholder != "" {
			if parts[i] == "" {
				return false
			}
			continue
		}
		if parts[i] != seg.literal {
			return false
		}
	}
	return true
}

func (r *route) capture(parts []string) map[string]string {
	caps := make(map[string]string)
	for i, seg := range r.segments {
		if seg.placeholder != "" {
			caps[seg.placeholder] = parts[i]
		}
	}
	return caps
}

// betterMatch reports whether a is a better match than the current best b:
// more literal segments wins; ties keep the earlier registration.
func betterMatch(a, b *route) bool {
	if a.literals != b.literals {
		return a.literals > b.literals
	}
	return a.order < b.order
}

type contextKey int

const (
	sessionContextKey contextKey = iota
	argsContextKey
)

// WithSession returns a copy of ctx carrying sess as the ambient session,
// retrievable by SessionValue. Session types live outside this package, so sess is
// opaque here; callers use a typed wrapper (see package session).
func WithSession(ctx context.Context, sess any) context.Context {
	return context.WithValue(ctx, sessionContextKey, sess)
}

// SessionValue returns the ambient session installed by WithSession, or nil.
func SessionValue(ctx context.Context) any {
	return ctx.Value(sessionContextKey)
}

// WithArgs returns a copy of ctx carrying the placeholder captures for the
// dispatched request.
func WithArgs(ctx context.Context, args map[string]string) context.Context {
	return context.WithValue(ctx, argsContextKey, args)
}

// Arg returns the placeholder capture named name, or "" if it wasn't
// present in the matched route.
func Arg(ctx context.Context, name string) string {
	args, _ := ctx.Value(argsContextKey).(map[string]string)
	return args[name]
}

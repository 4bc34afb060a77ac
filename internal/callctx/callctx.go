// Package callctx carries the per-call correlation state (call id, caller
// user id, initiating service, method) through context.Context so that
// logs and error reports written after any number of goroutine hops still
// see the call they belong to.
package callctx

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/qmuntal/stateless"
	"github.com/rs/zerolog"
)

// Standard headers understood on inbound calls and set on outbound ones.
const (
	HeaderUserID           = "X-User-Id"
	HeaderInitiatorService = "X-Initiator-Service"
	HeaderCallID           = "X-Call-Id"

	Undefined = "UNDEFINED"
)

// Lifecycle states of a Scope.
const (
	StateUninitialized = "Uninitialized"
	StateFilled        = "Filled"
	StateCleared       = "Cleared"

	triggerFill  = "Fill"
	triggerClear = "Clear"
)

// Fields is what an inbound boundary knows about the caller.
type Fields struct {
	UserID           string
	InitiatorService string
	Method           string
}

// Scope is the ambient state of one unit of work.
type Scope struct {
	mu        sync.RWMutex
	fsm       *stateless.StateMachine
	callID    string
	userID    string
	initiator string
	method    string
}

type scopeKey struct{}

func newScope() *Scope {
	fsm := stateless.NewStateMachine(StateUninitialized)
	fsm.Configure(StateUninitialized).Permit(triggerFill, StateFilled)
	fsm.Configure(StateFilled).Permit(triggerClear, StateCleared)
	fsm.Configure(StateCleared)
	return &Scope{fsm: fsm}
}

func (s *Scope) fill(f Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fsm.Fire(triggerFill); err != nil {
		return err
	}
	s.callID = uuid.New().String()
	s.userID = defined(f.UserID)
	s.initiator = defined(f.InitiatorService)
	s.method = f.Method
	return nil
}

func (s *Scope) clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fsm.Fire(triggerClear); err != nil {
		return err
	}
	s.callID, s.userID, s.initiator, s.method = "", "", "", ""
	return nil
}

// State reports the lifecycle state of the scope.
func (s *Scope) State() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fsm.MustState().(string)
}

func (s *Scope) CallID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.callID
}

func (s *Scope) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *Scope) InitiatorService() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initiator
}

func (s *Scope) Method() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.method
}

// Begin opens a fresh scope for one unit of work. It never merges with a
// scope already present in ctx. The returned end func clears the scope and
// is safe to call more than once.
func Begin(ctx context.Context, base zerolog.Logger, f Fields) (context.Context, func()) {
	scope := newScope()
	// a new scope is always Uninitialized, so fill cannot fail
	_ = scope.fill(f)

	logger := base.With().
		Str("callId", scope.callID).
		Str("userId", orUndefined(scope.userID)).
		Str("initiatorService", orUndefined(scope.initiator)).
		Str("method", scope.method).
		Logger()

	ctx = context.WithValue(ctx, scopeKey{}, scope)
	ctx = logger.WithContext(ctx)

	var once sync.Once
	return ctx, func() {
		once.Do(func() { _ = scope.clear() })
	}
}

// FromContext returns the scope of the current unit of work, or nil.
func FromContext(ctx context.Context) *Scope {
	scope, _ := ctx.Value(scopeKey{}).(*Scope)
	return scope
}

// CallID returns the correlation id of the current unit of work, or "".
func CallID(ctx context.Context) string {
	if scope := FromContext(ctx); scope != nil {
		return scope.CallID()
	}
	return ""
}

// UserID returns the caller asserted for the current unit of work, or "".
func UserID(ctx context.Context) string {
	if scope := FromContext(ctx); scope != nil {
		return scope.UserID()
	}
	return ""
}

// Logger returns the call-scoped logger stored in ctx.
func Logger(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}

// InjectHeaders copies the caller identity of ctx onto an outbound request.
func InjectHeaders(ctx context.Context, h http.Header) {
	scope := FromContext(ctx)
	if scope == nil {
		return
	}
	if v := scope.UserID(); v != "" {
		h.Set(HeaderUserID, v)
	}
	if v := scope.InitiatorService(); v != "" {
		h.Set(HeaderInitiatorService, v)
	}
	if v := scope.CallID(); v != "" {
		h.Set(HeaderCallID, v)
	}
}

func defined(v string) string {
	v = strings.TrimSpace(v)
	if v == Undefined {
		return ""
	}
	return v
}

func orUndefined(v string) string {
	if v == "" {
		return Undefined
	}
	return v
}

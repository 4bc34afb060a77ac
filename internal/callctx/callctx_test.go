package callctx

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBegin_FillsAndClears(t *testing.T) {
	ctx, end := Begin(context.Background(), zerolog.Nop(), Fields{
		UserID:           "u-1",
		InitiatorService: "gateway",
		Method:           "/chat/create_POST",
	})

	scope := FromContext(ctx)
	require.NotNil(t, scope)
	assert.Equal(t, StateFilled, scope.State())
	assert.NotEmpty(t, scope.CallID())
	assert.Equal(t, "u-1", scope.UserID())
	assert.Equal(t, "gateway", scope.InitiatorService())
	assert.Equal(t, "/chat/create_POST", scope.Method())

	end()
	assert.Equal(t, StateCleared, scope.State())
	assert.Empty(t, scope.CallID())
	assert.Empty(t, CallID(ctx))
	assert.Empty(t, UserID(ctx))

	// a second end is a no-op
	end()
	assert.Equal(t, StateCleared, scope.State())
}

func TestScope_RejectsInvalidTransitions(t *testing.T) {
	scope := newScope()
	assert.Error(t, scope.clear(), "cannot clear before fill")

	require.NoError(t, scope.fill(Fields{UserID: "a"}))
	assert.Error(t, scope.fill(Fields{UserID: "b"}), "cannot fill twice")
	assert.Equal(t, "a", scope.UserID())

	require.NoError(t, scope.clear())
	assert.Error(t, scope.fill(Fields{UserID: "c"}), "cleared scope is terminal")
}

func TestBegin_NestedScopesDoNotMerge(t *testing.T) {
	outer, endOuter := Begin(context.Background(), zerolog.Nop(), Fields{UserID: "outer"})
	defer endOuter()

	inner, endInner := Begin(outer, zerolog.Nop(), Fields{UserID: "inner"})
	assert.NotEqual(t, CallID(outer), CallID(inner))
	assert.Equal(t, "inner", UserID(inner))

	endInner()
	assert.Equal(t, "outer", UserID(outer))
	assert.NotEmpty(t, CallID(outer))
}

func TestBegin_UndefinedValuesAreAbsent(t *testing.T) {
	ctx, end := Begin(context.Background(), zerolog.Nop(), Fields{UserID: Undefined, InitiatorService: "  "})
	defer end()

	assert.Empty(t, UserID(ctx))
	assert.Empty(t, FromContext(ctx).InitiatorService())
}

func TestFromContext_Missing(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))
	assert.Empty(t, CallID(context.Background()))
}

func TestBegin_ConcurrentCallsAreIsolated(t *testing.T) {
	const workers = 50
	var wg sync.WaitGroup
	errs := make(chan string, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := string(rune('A' + i%26))
			ctx, end := Begin(context.Background(), zerolog.Nop(), Fields{UserID: user})
			defer end()
			callID := CallID(ctx)

			// suspend the way a database call would, then hop goroutines
			time.Sleep(time.Duration(i%5) * time.Millisecond)
			done := make(chan struct{})
			go func() {
				defer close(done)
				if UserID(ctx) != user || CallID(ctx) != callID {
					errs <- "context leaked across calls"
				}
			}()
			<-done
		}(i)
	}
	wg.Wait()
	close(errs)

	for e := range errs {
		t.Error(e)
	}
}

func TestLogger_CarriesScopeFields(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx, end := Begin(context.Background(), base, Fields{UserID: "u-9", Method: "send"})
	defer end()
	Logger(ctx).Info().Msg("hello")

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, CallID(ctx), record["callId"])
	assert.Equal(t, "u-9", record["userId"])
	assert.Equal(t, Undefined, record["initiatorService"])
	assert.Equal(t, "send", record["method"])
}

func TestInjectHeaders(t *testing.T) {
	ctx, end := Begin(context.Background(), zerolog.Nop(), Fields{UserID: "u-1", InitiatorService: "building-service"})
	defer end()

	h := http.Header{}
	InjectHeaders(ctx, h)
	assert.Equal(t, "u-1", h.Get(HeaderUserID))
	assert.Equal(t, "building-service", h.Get(HeaderInitiatorService))
	assert.Equal(t, CallID(ctx), h.Get(HeaderCallID))

	empty := http.Header{}
	InjectHeaders(context.Background(), empty)
	assert.Empty(t, empty)
}

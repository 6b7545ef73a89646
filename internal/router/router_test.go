package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveExactMatch(t *testing.T) {
	rt := New()
	rt.Register("host:version", func(ctx context.Context) (Response, error) {
		return OKBody([]byte("0029")), nil
	})

	h, args, ok := rt.Resolve("host:version")
	require.True(t, ok)
	assert.Empty(t, args)

	resp, err := h(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("0029"), resp.Body)
}

func TestResolvePlaceholderCapture(t *testing.T) {
	rt := New()
	rt.Register("host-serial:<serial>:kill", func(ctx context.Context) (Response, error) {
		return OKBody([]byte(Arg(ctx, "serial"))), nil
	})

	h, args, ok := rt.Resolve("host-serial:emulator-5554:kill")
	require.True(t, ok)
	assert.Equal(t, "emulator-5554", args["serial"])

	ctx := WithArgs(context.Background(), args)
	resp, err := h(ctx)
	require.NoError(t, err)
	assert.Equal(t, "emulator-5554", string(resp.Body))
}

func TestResolveNoMatch(t *testing.T) {
	rt := New()
	rt.Register("host:version", func(ctx context.Context) (Response, error) { return OK(), nil })

	_, _, ok := rt.Resolve("host:foo")
	assert.False(t, ok)
}

func TestResolveRejectsEmptyPlaceholder(t *testing.T) {
	rt := New()
	rt.Register("host-serial:<serial>:kill", func(ctx context.Context) (Response, error) { return OK(), nil })

	_, _, ok := rt.Resolve("host-serial::kill")
	assert.False(t, ok)
}

func TestRegisterSamePatternOverridesEarlier(t *testing.T) {
	rt := New()
	rt.Register("host:version", func(ctx context.Context) (Response, error) {
		return OKBody([]byte("builtin")), nil
	})
	rt.Register("host:version", func(ctx context.Context) (Response, error) {
		return OKBody([]byte("override")), nil
	})

	h, _, ok := rt.Resolve("host:version")
	require.True(t, ok)
	resp, err := h(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "override", string(resp.Body))
}

func TestResolveLongestMatchWins(t *testing.T) {
	// A 3-segment literal route should beat a 3-segment route with a
	// placeholder in the same position, for the same request.
	var picked string
	rt := New()
	rt.Register("host-serial:<serial>:kill", func(ctx context.Context) (Response, error) {
		picked = "placeholder"
		return OK(), nil
	})
	rt.Register("host-serial:specific-device:kill", func(ctx context.Context) (Response, error) {
		picked = "literal"
		return OK(), nil
	})

	h, _, ok := rt.Resolve("host-serial:specific-device:kill")
	require.True(t, ok)
	_, _ = h(context.Background())
	assert.Equal(t, "literal", picked)
}

func TestRegisterObjectWholesale(t *testing.T) {
	obj := &stubService{}
	rt := New()
	rt.RegisterObject(obj)

	h, _, ok := rt.Resolve("stub:ping")
	require.True(t, ok)
	resp, err := h(context.Background())
	require.NoError(t, err)
	assert.False(t, resp.Fail)
}

type stubService struct{}

func (s *stubService) Routes() map[string]Handler {
	return map[string]Handler{
		"stub:ping": s.ping,
	}
}

func (s *stubService) ping(ctx context.Context) (Response, error) {
	return OK(), nil
}

func TestAmbientSession(t *testing.T) {
	type fakeSession struct{ id string }
	ctx := WithSession(context.Background(), &fakeSession{id: "abc"})

	got, ok := SessionValue(ctx).(*fakeSession)
	require.True(t, ok)
	assert.Equal(t, "abc", got.id)
}

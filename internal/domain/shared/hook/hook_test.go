package hook

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	name string
}

func newTestRegistry() *Registry[*record] {
	return NewRegistry[*record](SoftDestroy, SoftRestore)
}

func TestRegistry_RunOrder(t *testing.T) {
	r := newTestRegistry()
	var calls []string

	_, err := r.Before(SoftDestroy, func(ctx context.Context, rec *record) Result {
		calls = append(calls, "before-1")
		return Proceed()
	})
	require.NoError(t, err)
	_, err = r.Before(SoftDestroy, func(ctx context.Context, rec *record) Result {
		calls = append(calls, "before-2")
		return Proceed()
	})
	require.NoError(t, err)
	_, err = r.Around(SoftDestroy, func(ctx context.Context, rec *record, next func(context.Context) error) error {
		calls = append(calls, "around-outer-in")
		err := next(ctx)
		calls = append(calls, "around-outer-out")
		return err
	})
	require.NoError(t, err)
	_, err = r.Around(SoftDestroy, func(ctx context.Context, rec *record, next func(context.Context) error) error {
		calls = append(calls, "around-inner-in")
		err := next(ctx)
		calls = append(calls, "around-inner-out")
		return err
	})
	require.NoError(t, err)
	_, err = r.After(SoftDestroy, func(ctx context.Context, rec *record) error {
		calls = append(calls, "after")
		return nil
	})
	require.NoError(t, err)

	res, err := r.Run(context.Background(), SoftDestroy, &record{name: "post"}, func(ctx context.Context) error {
		calls = append(calls, "op")
		return nil
	})

	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, []string{
		"before-1", "before-2",
		"around-outer-in", "around-inner-in",
		"op",
		"around-inner-out", "around-outer-out",
		"after",
	}, calls)
}

func TestRegistry_BeforeAbort(t *testing.T) {
	r := newTestRegistry()
	opRan := false
	afterRan := false

	_, _ = r.Before(SoftDestroy, func(ctx context.Context, rec *record) Result {
		return Abort("locked")
	})
	_, _ = r.After(SoftDestroy, func(ctx context.Context, rec *record) error {
		afterRan = true
		return nil
	})

	res, err := r.Run(context.Background(), SoftDestroy, &record{}, func(ctx context.Context) error {
		opRan = true
		return nil
	})

	require.NoError(t, err)
	assert.True(t, res.Aborted)
	assert.Equal(t, "locked", res.Reason)
	assert.False(t, opRan)
	assert.False(t, afterRan)
}

func TestRegistry_AbortErrors(t *testing.T) {
	t.Run("after slot aborts", func(t *testing.T) {
		r := newTestRegistry()
		_, _ = r.After(SoftRestore, func(ctx context.Context, rec *record) error {
			return &AbortError{Phase: SoftRestore, Reason: "cancelled subscription"}
		})

		res, err := r.Run(context.Background(), SoftRestore, &record{}, func(ctx context.Context) error { return nil })

		require.NoError(t, err)
		assert.True(t, res.Aborted)
		assert.Equal(t, "cancelled subscription", res.Reason)
	})

	t.Run("operation aborts", func(t *testing.T) {
		r := newTestRegistry()

		res, err := r.Run(context.Background(), SoftRestore, &record{}, func(ctx context.Context) error {
			return &AbortError{Reason: "dependent refused"}
		})

		require.NoError(t, err)
		assert.True(t, res.Aborted)
	})

	t.Run("plain errors propagate", func(t *testing.T) {
		r := newTestRegistry()
		boom := errors.New("boom")

		res, err := r.Run(context.Background(), SoftRestore, &record{}, func(ctx context.Context) error { return boom })

		assert.ErrorIs(t, err, boom)
		assert.False(t, res.Aborted)
	})
}

func TestRegistry_AroundMustCallNext(t *testing.T) {
	r := newTestRegistry()
	_, _ = r.Around(SoftDestroy, func(ctx context.Context, rec *record, next func(context.Context) error) error {
		return nil
	})

	_, err := r.Run(context.Background(), SoftDestroy, &record{}, func(ctx context.Context) error { return nil })

	assert.ErrorIs(t, err, ErrOperationSkipped)
}

func TestRegistry_Remove(t *testing.T) {
	r := newTestRegistry()
	count := 0

	h, err := r.Before(SoftDestroy, func(ctx context.Context, rec *record) Result {
		count++
		return Proceed()
	})
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len(SoftDestroy))

	assert.True(t, r.Remove(h))
	assert.False(t, r.Remove(h))
	assert.Equal(t, 0, r.Len(SoftDestroy))

	_, err = r.Run(context.Background(), SoftDestroy, &record{}, func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestRegistry_UnsupportedPhase(t *testing.T) {
	r := newTestRegistry()

	_, err := r.Before(RemoteCreation, func(ctx context.Context, rec *record) Result { return Proceed() })

	assert.Error(t, err)
	assert.False(t, r.Supports(RemoteCreation))
	assert.True(t, r.Supports(SoftRestore))

	res, err := r.Run(context.Background(), RemoteCreation, &record{}, func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.True(t, res.OK())
}

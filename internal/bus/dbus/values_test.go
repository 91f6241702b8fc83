package dbus

import (
	"errors"
	"testing"

	godbus "github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/taskvisor/internal/bus"
)

func TestWrapMethod(t *testing.T) {
	tests := map[string]struct {
		method  any
		call    func(t *testing.T, fn any) []any
		expVals []any
	}{
		"Results should be returned with a nil godbus error.": {
			method: func(a, b int32) (int32, error) { return a + b, nil },
			call: func(t *testing.T, fn any) []any {
				f, ok := fn.(func(int32, int32) (int32, *godbus.Error))
				require.True(t, ok)
				r, err := f(1, 2)
				return []any{r, err}
			},
			expVals: []any{int32(3), (*godbus.Error)(nil)},
		},

		"Interface results should be sent as variants.": {
			method: func() (any, error) { return "result", nil },
			call: func(t *testing.T, fn any) []any {
				f, ok := fn.(func() (godbus.Variant, *godbus.Error))
				require.True(t, ok)
				r, err := f()
				return []any{r, err}
			},
			expVals: []any{godbus.MakeVariant("result"), (*godbus.Error)(nil)},
		},

		"Object paths should be converted.": {
			method: func(p bus.ObjectPath) ([]bus.ObjectPath, error) { return []bus.ObjectPath{p, p.Child("a")}, nil },
			call: func(t *testing.T, fn any) []any {
				f, ok := fn.(func(godbus.ObjectPath) ([]godbus.ObjectPath, *godbus.Error))
				require.True(t, ok)
				r, err := f("/a")
				return []any{r, err}
			},
			expVals: []any{[]godbus.ObjectPath{"/a", "/a/a"}, (*godbus.Error)(nil)},
		},

		"Errors should keep their bus name.": {
			method: func() error { return &bus.Error{Name: "org.taskvisor.Error.NoResult", Message: "no result"} },
			call: func(t *testing.T, fn any) []any {
				f, ok := fn.(func() *godbus.Error)
				require.True(t, ok)
				return []any{f()}
			},
			expVals: []any{godbus.NewError("org.taskvisor.Error.NoResult", []any{"no result"})},
		},

		"Plain errors should be failed errors.": {
			method: func() (string, error) { return "", errors.New("whatever") },
			call: func(t *testing.T, fn any) []any {
				f, ok := fn.(func() (string, *godbus.Error))
				require.True(t, ok)
				r, err := f()
				return []any{r, err}
			},
			expVals: []any{"", godbus.NewError(bus.ErrNameFailed, []any{"whatever"})},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			got := test.call(t, wrapMethod(test.method))
			assert.Equal(t, test.expVals, got)
		})
	}
}

func TestWireValues(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	wire := toWire(map[string]any{"Steps": int32(3)})
	assert.Equal(map[string]godbus.Variant{"Steps": godbus.MakeVariant(int32(3))}, wire)

	b := newBody([]any{
		godbus.MakeVariant([]any{int32(2), "installing"}),
		map[string]godbus.Variant{"IsRunning": godbus.MakeVariant(true)},
		godbus.ObjectPath("/org/taskvisor/Task/1"),
	})

	type progress struct {
		Step    int32
		Message string
	}
	var (
		p       progress
		changed map[string]any
		path    bus.ObjectPath
	)
	require.NoError(b.Store(&p, &changed, &path))
	assert.Equal(progress{Step: 2, Message: "installing"}, p)
	assert.Equal(map[string]any{"IsRunning": true}, changed)
	assert.Equal(bus.ObjectPath("/org/taskvisor/Task/1"), path)
}

func TestToBusError(t *testing.T) {
	tests := map[string]struct {
		err    error
		expErr error
	}{
		"A godbus error should keep its name and message.": {
			err:    godbus.Error{Name: "org.taskvisor.Error.TaskError", Body: []any{"failed"}},
			expErr: &bus.Error{Name: "org.taskvisor.Error.TaskError", Message: "failed"},
		},
		"A godbus error pointer should keep its name and message.": {
			err:    godbus.NewError(bus.ErrNameServiceUnknown, []any{"missing"}),
			expErr: &bus.Error{Name: bus.ErrNameServiceUnknown, Message: "missing"},
		},
		"Other errors should be failed errors.": {
			err:    errors.New("whatever"),
			expErr: &bus.Error{Name: bus.ErrNameFailed, Message: "whatever"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.expErr, toBusError(test.err))
		})
	}
}

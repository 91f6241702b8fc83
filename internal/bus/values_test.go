package bus_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/taskvisor/internal/bus"
)

func TestCallMethod(t *testing.T) {
	errTest := errors.New("whatever")

	tests := map[string]struct {
		fn         any
		args       []any
		expResults []any
		expErr     bool
		expErrName string
	}{
		"A method without arguments should be called.": {
			fn:         func() (string, error) { return "ok", nil },
			expResults: []any{"ok"},
		},

		"Compatible arguments should be converted.": {
			fn:         func(a int32, paths []bus.ObjectPath) (int, error) { return int(a) + len(paths), nil },
			args:       []any{7, []string{"/a", "/b"}},
			expResults: []any{9},
		},

		"A wrong number of arguments should fail with invalid args.": {
			fn:         func(a string) error { return nil },
			args:       []any{},
			expErr:     true,
			expErrName: bus.ErrNameInvalidArgs,
		},

		"Incompatible arguments should fail with invalid args.": {
			fn:         func(a string) error { return nil },
			args:       []any{42},
			expErr:     true,
			expErrName: bus.ErrNameInvalidArgs,
		},

		"The error of the method should be returned.": {
			fn:     func() error { return errTest },
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			require.NoError(bus.ValidateMethod(test.fn))
			gotResults, err := bus.CallMethod(test.fn, test.args)

			if test.expErr {
				assert.Error(err)
				if test.expErrName != "" {
					assert.True(bus.IsName(err, test.expErrName))
				}
			} else if assert.NoError(err) {
				assert.Equal(test.expResults, gotResults)
			}
		})
	}
}

func TestValidateMethod(t *testing.T) {
	assert.Error(t, bus.ValidateMethod("not a func"))
	assert.Error(t, bus.ValidateMethod(func() string { return "" }))
	assert.Error(t, bus.ValidateMethod(func(a ...string) error { return nil }))
	assert.NoError(t, bus.ValidateMethod(func() error { return nil }))
}

func TestStoreValues(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	var (
		step  int
		msg   string
		paths []bus.ObjectPath
		v     any
	)
	err := bus.ValuesBody{int32(3), "msg", []string{"/a"}, map[string]int{"a": 1}}.Store(&step, &msg, &paths, &v)
	require.NoError(err)
	assert.Equal(3, step)
	assert.Equal("msg", msg)
	assert.Equal([]bus.ObjectPath{"/a"}, paths)
	assert.Equal(map[string]int{"a": 1}, v)

	type progress struct {
		Step    int32
		Message string
	}
	var p progress
	require.NoError(bus.ValuesBody{[]any{int32(4), "installing"}}.Store(&p))
	assert.Equal(progress{Step: 4, Message: "installing"}, p)
	assert.Error(bus.ValuesBody{[]any{int32(4)}}.Store(&p))

	assert.Error(bus.ValuesBody{"a"}.Store(&step))
	assert.Error(bus.ValuesBody{"a"}.Store(&msg, &step))
	assert.Error(bus.ValuesBody{"a"}.Store(msg))
}

func TestToError(t *testing.T) {
	assert := assert.New(t)

	assert.Nil(bus.ToError(nil))

	err := bus.ToError(errors.New("boom"))
	assert.Equal(bus.ErrNameFailed, err.Name)
	assert.Equal("boom", err.Message)

	orig := &bus.Error{Name: "a.b.C", Message: "msg"}
	assert.Same(orig, bus.ToError(orig))
}

func TestObjectPath(t *testing.T) {
	assert := assert.New(t)

	assert.NoError(bus.ObjectPath("/").Validate())
	assert.NoError(bus.ObjectPath("/org/taskvisor/Task/1").Validate())
	assert.Error(bus.ObjectPath("org/taskvisor").Validate())
	assert.Error(bus.ObjectPath("/org/").Validate())

	assert.Equal(bus.ObjectPath("/org/taskvisor/Boss"), bus.ServicePath("org.taskvisor.Boss"))
	assert.Equal(bus.ObjectPath("/org/a/b"), bus.ObjectPath("/org").Child("a", "b"))

	p1 := bus.NewObjectPath("/org/taskvisor/Tasks")
	p2 := bus.NewObjectPath("/org/taskvisor/Tasks")
	assert.NotEqual(p1, p2)
	assert.NoError(p1.Validate())
}

package event

import (
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecord(level slog.Level, msg string, attrs ...slog.Attr) slog.Record {
	r := slog.NewRecord(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), level, msg, 0)
	r.AddAttrs(attrs...)
	return r
}

func TestFromRecord(t *testing.T) {
	t.Run("copies time level and message", func(t *testing.T) {
		e := FromRecord(newRecord(slog.LevelError, "efg"), nil, nil)

		assert.Equal(t, slog.LevelError, e.Level)
		assert.Equal(t, "efg", e.Message)
		assert.Equal(t, 2024, e.Time.Year())
		assert.Nil(t, e.Err)
		assert.Empty(t, e.Attrs)
	})

	t.Run("lifts error valued attr into Err", func(t *testing.T) {
		boom := errors.New("boom")
		e := FromRecord(newRecord(slog.LevelError, "failed", slog.Any("cause", boom), slog.Int("n", 3)), nil, nil)

		assert.Equal(t, boom, e.Err)
		require.Len(t, e.Attrs, 1)
		assert.Equal(t, "n", e.Attrs[0].Key)
	})

	t.Run("treats string error key as error", func(t *testing.T) {
		e := FromRecord(newRecord(slog.LevelError, "failed", slog.String("error", "disk full")), nil, nil)

		require.Error(t, e.Err)
		assert.Equal(t, "disk full", e.Err.Error())
	})

	t.Run("keeps only the first error", func(t *testing.T) {
		first, second := errors.New("first"), errors.New("second")
		e := FromRecord(newRecord(slog.LevelError, "x", slog.Any("a", first), slog.Any("b", second)), nil, nil)

		assert.Equal(t, first, e.Err)
		require.Len(t, e.Attrs, 1)
		assert.Equal(t, "b", e.Attrs[0].Key)
	})

	t.Run("qualifies keys with groups and handler attrs", func(t *testing.T) {
		r := newRecord(slog.LevelWarn, "x", slog.Group("req", slog.String("id", "42")))
		e := FromRecord(r, []string{"http"}, []slog.Attr{slog.String("service", "api")})

		v, ok := e.Lookup("http.service")
		require.True(t, ok)
		assert.Equal(t, "api", v.String())

		v, ok = e.Lookup("http.req.id")
		require.True(t, ok)
		assert.Equal(t, "42", v.String())

		_, ok = e.Lookup("req.id")
		assert.False(t, ok)
	})

	t.Run("drops empty attrs", func(t *testing.T) {
		e := FromRecord(newRecord(slog.LevelInfo, "x", slog.Attr{}), nil, nil)
		assert.Empty(t, e.Attrs)
	})
}

func TestException(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "no error renders empty",
			err:  nil,
			want: "",
		},
		{
			name: "single error",
			err:  errors.New("boom"),
			want: "boom",
		},
		{
			name: "wrapped chain is indented",
			err:  fmt.Errorf("outer: %w", fmt.Errorf("middle: %w", errors.New("inner"))),
			want: "outer: middle: inner\n---> middle: inner\n  ---> inner",
		},
		{
			name: "joined errors are expanded",
			err:  errors.Join(errors.New("First"), fmt.Errorf("Second: %w", errors.New("Nested"))),
			want: "First\nSecond: Nested\n---> Nested",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Event{Err: tt.err}.Exception())
		})
	}
}

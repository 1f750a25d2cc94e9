package ingest

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "issuesink/pkg/domain-errors"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func recordAttrs(r slog.Record) map[string]slog.Value {
	out := map[string]slog.Value{}
	r.Attrs(func(a slog.Attr) bool {
		out[a.Key] = a.Value
		return true
	})
	return out
}

func TestDecode(t *testing.T) {
	t.Run("slog JSON line", func(t *testing.T) {
		line := `{"time":"2024-03-01T10:00:00.5Z","level":"ERROR","msg":"db down","error":"timeout","retries":3,"ratio":0.5,"ok":false}`

		r, err := Decode([]byte(line), clock)
		require.NoError(t, err)

		assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 500_000_000, time.UTC), r.Time)
		assert.Equal(t, slog.LevelError, r.Level)
		assert.Equal(t, "db down", r.Message)

		attrs := recordAttrs(r)
		assert.Len(t, attrs, 4)
		assert.Equal(t, "timeout", attrs["error"].String())
		assert.Equal(t, slog.KindInt64, attrs["retries"].Kind())
		assert.EqualValues(t, 3, attrs["retries"].Int64())
		assert.Equal(t, slog.KindFloat64, attrs["ratio"].Kind())
		assert.False(t, attrs["ok"].Bool())
	})

	t.Run("defaults for missing time and level", func(t *testing.T) {
		r, err := Decode([]byte(`{"msg":"hello"}`), clock)
		require.NoError(t, err)
		assert.Equal(t, fixedNow, r.Time)
		assert.Equal(t, slog.LevelInfo, r.Level)
		assert.Zero(t, r.NumAttrs())
	})

	t.Run("offset levels and lower case", func(t *testing.T) {
		r, err := Decode([]byte(`{"level":"warn+2","msg":"x"}`), clock)
		require.NoError(t, err)
		assert.Equal(t, slog.LevelWarn+2, r.Level)
	})

	t.Run("nested objects become sorted groups", func(t *testing.T) {
		r, err := Decode([]byte(`{"msg":"x","req":{"path":"/a","id":7}}`), clock)
		require.NoError(t, err)

		req := recordAttrs(r)["req"]
		require.Equal(t, slog.KindGroup, req.Kind())
		group := req.Group()
		require.Len(t, group, 2)
		assert.Equal(t, "id", group[0].Key)
		assert.Equal(t, "path", group[1].Key)
	})

	t.Run("attributes are sorted by key", func(t *testing.T) {
		r, err := Decode([]byte(`{"msg":"x","b":1,"a":2,"c":3}`), clock)
		require.NoError(t, err)
		var keys []string
		r.Attrs(func(a slog.Attr) bool {
			keys = append(keys, a.Key)
			return true
		})
		assert.Equal(t, []string{"a", "b", "c"}, keys)
	})

	for name, line := range map[string]string{
		"not JSON":      `level=ERROR msg=oops`,
		"array":         `[1,2]`,
		"null":          `null`,
		"bad time":      `{"time":"yesterday","msg":"x"}`,
		"unknown level": `{"level":"LOUD","msg":"x"}`,
	} {
		t.Run("rejects "+name, func(t *testing.T) {
			_, err := Decode([]byte(line), clock)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
		})
	}
}

package validation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "issuesink/pkg/domain-errors"
)

type settings struct {
	Endpoint  string        `env:"APP_ENDPOINT" validate:"required,url"`
	BatchSize int           `env:"APP_BATCH_SIZE" validate:"min=1,max=100"`
	Period    time.Duration `env:"APP_PERIOD" validate:"min=10ms"`
	Mode      string        `yaml:"mode" validate:"omitempty,oneof=fast slow"`
	Name      string        `validate:"notblank"`
}

func valid() settings {
	return settings{Endpoint: "https://tracker.example.com", BatchSize: 10, Period: time.Second, Name: "x"}
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(valid()))

	tests := []struct {
		name   string
		mutate func(*settings)
		want   string
	}{
		{"missing endpoint", func(s *settings) { s.Endpoint = "" }, "APP_ENDPOINT is required"},
		{"bad endpoint", func(s *settings) { s.Endpoint = "not a url" }, "APP_ENDPOINT must be a valid url"},
		{"batch too small", func(s *settings) { s.BatchSize = 0 }, "APP_BATCH_SIZE must be at least 1"},
		{"batch too big", func(s *settings) { s.BatchSize = 101 }, "APP_BATCH_SIZE must be at most 100"},
		{"period too short", func(s *settings) { s.Period = time.Millisecond }, "APP_PERIOD must be at least 10ms"},
		{"yaml key", func(s *settings) { s.Mode = "medium" }, "mode must be one of [fast slow]"},
		{"struct field name", func(s *settings) { s.Name = "  " }, "Name must not be blank"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(&s)
			err := Validate(s)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeConfiguration))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateReportsEveryField(t *testing.T) {
	err := Validate(settings{Period: time.Second, Name: "x", BatchSize: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "APP_ENDPOINT is required")

	err = Validate(settings{Name: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "APP_ENDPOINT is required")
	assert.Contains(t, err.Error(), "APP_BATCH_SIZE must be at least 1")
	assert.Contains(t, err.Error(), "APP_PERIOD must be at least 10ms")
}

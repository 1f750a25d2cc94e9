package setup_test

import (
	"context"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"issuesink/internal/reporting"
	"issuesink/internal/setup"
	"issuesink/internal/youtrack/mocks"
	"issuesink/internal/youtrack/trackertest"
	dErrors "issuesink/pkg/domain-errors"
)

func closeHandler(t *testing.T, h interface{ Close(context.Context) error }) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Close(ctx))
}

func TestNewHandlerReportsThroughTracker(t *testing.T) {
	srv := trackertest.New(t, trackertest.WithCredentials("logger", "s3cret"))

	h, err := setup.NewHandler(context.Background(), setup.Options{
		Endpoint: srv.URL,
		Username: "logger",
		Password: "s3cret",
		Configure: func(b *reporting.Builder) {
			b.UseProject("OPS").UseIssueType("Bug").UsePriority("Major")
		},
		MinLevel:   slog.LevelError,
		Period:     time.Hour,
		Registerer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)

	logger := slog.New(h)
	logger.Info("ignored")
	logger.Error("disk full", "volume", "/var")
	closeHandler(t, h)

	creates := srv.Creates()
	require.Len(t, creates, 1)
	assert.Equal(t, "OPS", creates[0].Form.Get("project"))
	assert.Equal(t, "[ERROR] disk full", creates[0].Form.Get("summary"))

	cmds := srv.Commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, "type Bug", cmds[0].Form.Get("command"))
	assert.Equal(t, "Priority Major", cmds[1].Form.Get("command"))
}

func TestNewHandlerConfigurationErrorsComeFirst(t *testing.T) {
	srv := trackertest.New(t)

	_, err := setup.NewHandler(context.Background(), setup.Options{
		Endpoint:        srv.URL,
		Username:        "logger",
		Password:        "pw",
		Configure:       func(*reporting.Builder) {},
		AuthImmediately: true,
	})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConfiguration))
	assert.Empty(t, srv.Requests())

	_, err = setup.NewHandler(context.Background(), setup.Options{Endpoint: srv.URL, Username: "logger"})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConfiguration))
}

func TestNewHandlerAuthImmediately(t *testing.T) {
	t.Run("login failure aborts construction", func(t *testing.T) {
		srv := trackertest.New(t, trackertest.WithLoginStatus(http.StatusForbidden))

		h, err := setup.NewHandler(context.Background(), setup.Options{
			Endpoint:        srv.URL,
			Username:        "logger",
			Password:        "pw",
			Configure:       func(b *reporting.Builder) { b.UseProject("OPS") },
			AuthImmediately: true,
		})
		assert.Nil(t, h)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
		assert.Len(t, srv.Logins(), 1)
	})

	t.Run("success logs in once", func(t *testing.T) {
		srv := trackertest.New(t)

		h, err := setup.NewHandler(context.Background(), setup.Options{
			Endpoint:        srv.URL,
			Username:        "logger",
			Password:        "pw",
			Configure:       func(b *reporting.Builder) { b.UseProject("OPS") },
			AuthImmediately: true,
			Period:          time.Hour,
		})
		require.NoError(t, err)

		slog.New(h).Error("boom")
		closeHandler(t, h)
		assert.Len(t, srv.Logins(), 1)
		assert.Len(t, srv.Creates(), 1)
	})
}

func TestNewHandlerInvalidEndpoint(t *testing.T) {
	configure := func(b *reporting.Builder) { b.UseProject("OPS") }

	_, err := setup.NewHandler(context.Background(), setup.Options{Username: "logger", Configure: configure})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = setup.NewHandler(context.Background(), setup.Options{Endpoint: "tracker.local", Username: "logger", Configure: configure})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestNewHandlerUsesSuppliedReporter(t *testing.T) {
	ctrl := gomock.NewController(t)
	rep := mocks.NewMockReporter(ctrl)
	rep.EXPECT().CreateIssue(gomock.Any(), "abc", "[ERROR] efg", gomock.Any(), "").Return(nil, nil).Times(1)

	h, err := setup.NewHandler(context.Background(), setup.Options{
		Reporter:  rep,
		Configure: func(b *reporting.Builder) { b.UseProject("abc") },
		Period:    time.Hour,
	})
	require.NoError(t, err)

	slog.New(h).Error("efg")
	closeHandler(t, h)
}

func TestForProject(t *testing.T) {
	srv := trackertest.New(t)

	h, err := setup.ForProject(srv.URL, "logger", "pw", "OPS")
	require.NoError(t, err)

	slog.New(h).Warn("careful")
	closeHandler(t, h)

	creates := srv.Creates()
	require.Len(t, creates, 1)
	assert.Equal(t, "[WARN] careful", creates[0].Form.Get("summary"))
}

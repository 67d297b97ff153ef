package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedApp(t *testing.T) (*fiber.App, *observer.ObservedLogs) {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(requestid.New())
	app.Use(Recover(logger))
	app.Use(Logger(logger))

	app.Post("/submissions", func(c *fiber.Ctx) error {
		c.Locals(LocalLockKey, "lock.SubmissionService.Submit.req-1")
		c.Locals(LocalLockPolicy, "REPEAT_ABORT")

		return c.SendStatus(fiber.StatusConflict)
	})
	app.Get("/ok", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	app.Get("/boom", func(_ *fiber.Ctx) error {
		panic("guarded call exploded")
	})

	return app, logs
}

func TestLogger_LockContention(t *testing.T) {
	app, logs := newObservedApp(t)

	resp, err := app.Test(httptest.NewRequest("POST", "/submissions", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)

	entries := logs.FilterMessage("lock contention").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)

	fields := entries[0].ContextMap()
	assert.Equal(t, "lock.SubmissionService.Submit.req-1", fields["lock_key"])
	assert.Equal(t, "REPEAT_ABORT", fields["lock_policy"])
	assert.Equal(t, "/submissions", fields["route"])
	assert.NotEmpty(t, fields["request_id"])
}

func TestLogger_Success(t *testing.T) {
	app, logs := newObservedApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/ok", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.NotContains(t, entries[0].ContextMap(), "lock_key")
}

func TestRecover(t *testing.T) {
	app, logs := newObservedApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/boom", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)

	entries := logs.FilterMessage("panic recovered").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "guarded call exploded", entries[0].ContextMap()["error"])
}

package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	allochandler "secretsanta/internal/allocation/handler"
	"secretsanta/internal/allocation/engine"
	dirhandler "secretsanta/internal/directory/handler"
	dirservice "secretsanta/internal/directory/service"
	exhandler "secretsanta/internal/exchange/handler"
	exservice "secretsanta/internal/exchange/service"
	"secretsanta/internal/platform/metrics"
	"secretsanta/internal/store/memory"
	dErrors "secretsanta/pkg/domain-errors"
	"secretsanta/pkg/platform/tx"
	"secretsanta/pkg/testutil"
)

const adminToken = "s3cret"

func newTestRouter(t *testing.T, token string, health func(context.Context) error) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	store := memory.New()

	drawer, err := engine.New(tx.Adapt[*memory.Store, engine.Store](store, func(st *memory.Store) engine.Store { return st }),
		engine.WithMetrics(m), engine.WithLogger(logger))
	require.NoError(t, err)
	directory, err := dirservice.New(tx.Adapt[*memory.Store, dirservice.Store](store, func(st *memory.Store) dirservice.Store { return st }),
		dirservice.WithLogger(logger))
	require.NoError(t, err)
	exchange, err := exservice.New(drawer, tx.Adapt[*memory.Store, exservice.Store](store, func(st *memory.Store) exservice.Store { return st }),
		exservice.WithLogger(logger))
	require.NoError(t, err)

	return NewRouter(Deps{
		Logger:      logger,
		Metrics:     m,
		Gatherer:    reg,
		AdminToken:  token,
		Health:      health,
		Participant: []Registrar{allochandler.New(exchange, logger)},
		Admin:       []Registrar{dirhandler.New(directory, logger), exhandler.New(exchange, logger)},
	})
}

func admin(req *http.Request) *http.Request {
	return testutil.WithAdminToken(req, adminToken)
}

func TestExchangeOverHTTP(t *testing.T) {
	router := newTestRouter(t, adminToken, nil)

	for _, address := range []string{"ann@x.io", "bob@x.io", "cat@x.io"} {
		rr := testutil.Serve(router, admin(testutil.JSONRequest(t, http.MethodPost, "/admin/participants",
			dirhandler.AddParticipantRequest{Email: address})))
		testutil.AssertStatus(t, rr, http.StatusCreated)
	}

	rr := testutil.Serve(router, testutil.JSONRequest(t, http.MethodPost, "/draws", allochandler.DrawRequest{Giver: "ann@x.io"}))
	testutil.AssertError(t, rr, http.StatusConflict, string(dErrors.CodeExchangeNotStarted))

	rr = testutil.Serve(router, admin(testutil.Request(t, http.MethodPost, "/admin/exchange/start")))
	testutil.AssertStatus(t, rr, http.StatusOK)

	receivers := map[string]bool{}
	for _, giver := range []string{"ann@x.io", "bob@x.io", "cat@x.io"} {
		rr = testutil.Serve(router, testutil.JSONRequest(t, http.MethodPost, "/draws", allochandler.DrawRequest{Giver: giver}))
		testutil.AssertStatus(t, rr, http.StatusCreated)
		match := testutil.Decode[allochandler.MatchResponse](t, rr)
		assert.NotEqual(t, giver, match.Receiver)
		receivers[match.Receiver] = true
	}
	assert.Len(t, receivers, 3)

	rr = testutil.Serve(router, testutil.JSONRequest(t, http.MethodPost, "/draws", allochandler.DrawRequest{Giver: "ann@x.io"}))
	testutil.AssertError(t, rr, http.StatusConflict, string(dErrors.CodeAlreadyAssigned))

	rr = testutil.Serve(router, admin(testutil.Request(t, http.MethodGet, "/admin/exchange/feasibility")))
	testutil.AssertStatus(t, rr, http.StatusOK)
	assert.True(t, testutil.Decode[engine.FeasibilityReport](t, rr).Feasible)

	rr = testutil.Serve(router, admin(testutil.Request(t, http.MethodPost, "/admin/exchange/reset")))
	testutil.AssertStatus(t, rr, http.StatusNoContent)

	rr = testutil.Serve(router, testutil.Request(t, http.MethodGet, "/draws/ann@x.io"))
	testutil.AssertError(t, rr, http.StatusNotFound, string(dErrors.CodeNotFound))
}

func TestOperationalRoutes(t *testing.T) {
	t.Run("metrics are exposed", func(t *testing.T) {
		router := newTestRouter(t, adminToken, nil)
		testutil.Serve(router, testutil.Request(t, http.MethodGet, "/healthz"))

		rr := testutil.Serve(router, testutil.Request(t, http.MethodGet, "/metrics"))

		testutil.AssertStatus(t, rr, http.StatusOK)
		assert.Contains(t, rr.Body.String(), `santa_http_request_duration_seconds_count{route="/healthz",status="2xx"} 1`)
	})

	t.Run("health reports the store", func(t *testing.T) {
		router := newTestRouter(t, adminToken, func(context.Context) error { return errors.New("down") })
		rr := testutil.Serve(router, testutil.Request(t, http.MethodGet, "/healthz"))
		testutil.AssertStatus(t, rr, http.StatusServiceUnavailable)
	})

	t.Run("admin routes are absent without a token", func(t *testing.T) {
		router := newTestRouter(t, "", nil)
		rr := testutil.Serve(router, testutil.WithAdminToken(testutil.Request(t, http.MethodGet, "/admin/matches"), ""))
		testutil.AssertError(t, rr, http.StatusNotFound, string(dErrors.CodeNotFound))
	})

	t.Run("unknown routes use the error envelope", func(t *testing.T) {
		router := newTestRouter(t, adminToken, nil)
		rr := testutil.Serve(router, testutil.Request(t, http.MethodGet, "/nope"))
		testutil.AssertError(t, rr, http.StatusNotFound, string(dErrors.CodeNotFound))
	})
}

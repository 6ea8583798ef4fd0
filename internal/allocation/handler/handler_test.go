package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"secretsanta/internal/allocation/handler/mocks"
	"secretsanta/internal/allocation/models"
	dErrors "secretsanta/pkg/domain-errors"
	"secretsanta/pkg/requestcontext"
	"secretsanta/pkg/testutil"
)

type HandlerSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	service *mocks.MockService
	router  chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.service = mocks.NewMockService(s.ctrl)
	s.router = chi.NewRouter()
	New(s.service, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(s.router)
}

func (s *HandlerSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *HandlerSuite) TestDraw() {
	created := time.Date(2026, 12, 1, 9, 0, 0, 0, time.UTC)

	s.Run("returns the new match", func() {
		t := s.T()
		s.SetupTest()
		withRequestID := gomock.Cond(func(ctx context.Context) bool {
			return requestcontext.RequestID(ctx) == "req-42"
		})
		s.service.EXPECT().Draw(withRequestID, "ann@x.io").Return(&models.Match{
			Giver:               "ann@x.io",
			Receiver:            "bob@x.io",
			ReceiverDisplayName: "Bob",
			CreatedAt:           created,
		}, nil)

		req := testutil.JSONRequest(t, http.MethodPost, "/draws", DrawRequest{Giver: "ann@x.io"})
		rr := testutil.Serve(s.router, testutil.WithRequestID(req, "req-42"))

		testutil.AssertStatus(t, rr, http.StatusCreated)
		resp := testutil.Decode[MatchResponse](t, rr)
		s.Equal("bob@x.io", resp.Receiver)
		s.Equal("Bob", resp.ReceiverDisplayName)
		s.True(created.Equal(resp.CreatedAt))
	})

	s.Run("normalizes the giver before validating it", func() {
		t := s.T()
		s.SetupTest()
		s.service.EXPECT().Draw(gomock.Any(), "ann@x.io").Return(&models.Match{
			Giver: "ann@x.io", Receiver: "bob@x.io", CreatedAt: created,
		}, nil)

		rr := testutil.Serve(s.router, testutil.RawRequest(t, http.MethodPost, "/draws", `{"giver":" Ann@X.io "}`))

		testutil.AssertStatus(t, rr, http.StatusCreated)
		s.Equal("ann@x.io", testutil.Decode[MatchResponse](t, rr).Giver)
	})

	s.Run("still rejects a malformed giver", func() {
		t := s.T()
		s.SetupTest()
		rr := testutil.Serve(s.router, testutil.RawRequest(t, http.MethodPost, "/draws", `{"giver":" ann "}`))
		testutil.AssertError(t, rr, http.StatusBadRequest, string(dErrors.CodeValidation))
	})

	s.Run("rejects a body without a giver", func() {
		t := s.T()
		s.SetupTest()
		rr := testutil.Serve(s.router, testutil.RawRequest(t, http.MethodPost, "/draws", `{}`))
		testutil.AssertError(t, rr, http.StatusBadRequest, string(dErrors.CodeValidation))
	})

	s.Run("rejects malformed json", func() {
		t := s.T()
		s.SetupTest()
		rr := testutil.Serve(s.router, testutil.RawRequest(t, http.MethodPost, "/draws", `{"giver":`))
		testutil.AssertError(t, rr, http.StatusBadRequest, string(dErrors.CodeBadRequest))
	})

	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"unknown participant", dErrors.New(dErrors.CodeUnknownParticipant, "unknown"), http.StatusNotFound},
		{"already assigned", dErrors.New(dErrors.CodeAlreadyAssigned, "assigned"), http.StatusConflict},
		{"exchange not started", dErrors.New(dErrors.CodeExchangeNotStarted, "not started"), http.StatusConflict},
		{"no candidates", dErrors.New(dErrors.CodeNoCandidates, "none left"), http.StatusUnprocessableEntity},
		{"contention", dErrors.New(dErrors.CodeContention, "busy"), http.StatusServiceUnavailable},
		{"internal", dErrors.New(dErrors.CodeInternal, "db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			t := s.T()
			s.SetupTest()
			s.service.EXPECT().Draw(gomock.Any(), "ann@x.io").Return(nil, tt.err)

			rr := testutil.Serve(s.router, testutil.JSONRequest(t, http.MethodPost, "/draws", DrawRequest{Giver: "ann@x.io"}))

			testutil.AssertError(t, rr, tt.status, string(dErrors.CodeOf(tt.err)))
		})
	}

	s.Run("contention advertises retry-after", func() {
		t := s.T()
		s.SetupTest()
		s.service.EXPECT().Draw(gomock.Any(), gomock.Any()).Return(nil, dErrors.New(dErrors.CodeContention, "busy"))

		rr := testutil.Serve(s.router, testutil.JSONRequest(t, http.MethodPost, "/draws", DrawRequest{Giver: "ann@x.io"}))

		s.Equal("1", rr.Header().Get("Retry-After"))
	})
}

func (s *HandlerSuite) TestGetMatch() {

	s.Run("returns the giver's match", func() {
		t := s.T()
		s.SetupTest()
		s.service.EXPECT().MatchFor(gomock.Any(), "ann@x.io").Return(&models.Match{Giver: "ann@x.io", Receiver: "bob@x.io"}, nil)

		rr := testutil.Serve(s.router, testutil.Request(t, http.MethodGet, "/draws/ann@x.io"))

		testutil.AssertStatus(t, rr, http.StatusOK)
		s.Equal("bob@x.io", testutil.Decode[MatchResponse](t, rr).Receiver)
	})

	s.Run("not drawn yet", func() {
		t := s.T()
		s.SetupTest()
		s.service.EXPECT().MatchFor(gomock.Any(), "ann@x.io").Return(nil, dErrors.New(dErrors.CodeNotFound, "no match"))

		rr := testutil.Serve(s.router, testutil.Request(t, http.MethodGet, "/draws/ann@x.io"))

		testutil.AssertError(t, rr, http.StatusNotFound, string(dErrors.CodeNotFound))
	})
}

package service

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks Drawer,Notifier

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"secretsanta/internal/allocation/engine"
	"secretsanta/internal/allocation/models"
	dirmodels "secretsanta/internal/directory/models"
	"secretsanta/internal/exchange/service/mocks"
	"secretsanta/internal/notify"
	"secretsanta/internal/store/memory"
	dErrors "secretsanta/pkg/domain-errors"
	"secretsanta/pkg/platform/tx"
	"secretsanta/pkg/requestcontext"
	"secretsanta/pkg/testutil"
)

type ExchangeServiceSuite struct {
	suite.Suite
	ctx      context.Context
	now      time.Time
	ctrl     *gomock.Controller
	drawer   *mocks.MockDrawer
	notifier *mocks.MockNotifier
	store    *memory.Store
	service  *Service
}

func TestExchangeServiceSuite(t *testing.T) {
	suite.Run(t, new(ExchangeServiceSuite))
}

func storeTx(store *memory.Store) StoreTx {
	return tx.Adapt[*memory.Store, Store](store, func(st *memory.Store) Store { return st })
}

func (s *ExchangeServiceSuite) SetupTest() {
	s.now = time.Date(2026, 12, 1, 9, 30, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.ctrl = gomock.NewController(s.T())
	s.drawer = mocks.NewMockDrawer(s.ctrl)
	s.notifier = mocks.NewMockNotifier(s.ctrl)
	s.store = memory.New()
	svc, err := New(s.drawer, storeTx(s.store),
		WithNotifier(s.notifier),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	s.Require().NoError(err)
	s.service = svc
}

func (s *ExchangeServiceSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ExchangeServiceSuite) seed(ids ...string) {
	for _, id := range ids {
		s.Require().NoError(s.store.CreateParticipant(s.ctx, &dirmodels.Participant{ID: id, DisplayName: id, Active: true}))
	}
}

func ofKind(kind notify.Kind) gomock.Matcher {
	return gomock.Cond(func(n notify.Notification) bool { return n.Kind == kind })
}

func (s *ExchangeServiceSuite) start() {
	s.notifier.EXPECT().Publish(gomock.Any(), ofKind(notify.KindExchangeStarted)).Return(nil).AnyTimes()
	_, err := s.service.Start(s.ctx, nil)
	s.Require().NoError(err)
}

func (s *ExchangeServiceSuite) TestNew() {
	s.Run("nil drawer returns error", func() {
		_, err := New(nil, storeTx(s.store))
		s.ErrorContains(err, "drawer is required")
	})

	s.Run("nil store returns error", func() {
		_, err := New(s.drawer, nil)
		s.ErrorContains(err, "store transaction runner is required")
	})
}

func (s *ExchangeServiceSuite) TestDraw() {
	s.Run("rejected until the exchange starts", func() {
		s.SetupTest()
		s.seed("ann@x.io", "bob@x.io")

		_, err := s.service.Draw(s.ctx, "ann@x.io")
		s.True(dErrors.HasCode(err, dErrors.CodeExchangeNotStarted))
	})

	s.Run("delegates to the drawer and notifies the giver", func() {
		s.SetupTest()
		s.seed("ann@x.io", "bob@x.io")
		s.start()

		match := &models.Match{Giver: "ann@x.io", Receiver: "bob@x.io", ReceiverDisplayName: "Bob"}
		s.drawer.EXPECT().Draw(gomock.Any(), "ann@x.io").Return(match, nil)
		s.notifier.EXPECT().Publish(gomock.Any(), gomock.Cond(func(n notify.Notification) bool {
			return n.Kind == notify.KindMatchDrawn && n.Recipient == "ann@x.io"
		})).Return(nil)

		got, err := s.service.Draw(s.ctx, "ann@x.io")
		s.Require().NoError(err)
		s.Equal(match, got)
	})

	s.Run("notification failures do not fail the draw", func() {
		s.SetupTest()
		s.seed("ann@x.io", "bob@x.io")
		s.start()

		s.drawer.EXPECT().Draw(gomock.Any(), "ann@x.io").
			Return(&models.Match{Giver: "ann@x.io", Receiver: "bob@x.io"}, nil)
		s.notifier.EXPECT().Publish(gomock.Any(), ofKind(notify.KindMatchDrawn)).Return(notify.ErrBufferFull)

		_, err := s.service.Draw(s.ctx, "ann@x.io")
		s.NoError(err)
	})

	s.Run("drawer errors pass through without a notification", func() {
		s.SetupTest()
		s.seed("ann@x.io", "bob@x.io")
		s.start()

		s.drawer.EXPECT().Draw(gomock.Any(), "ann@x.io").
			Return(nil, dErrors.New(dErrors.CodeAlreadyAssigned, "ann@x.io has already drawn a match"))

		_, err := s.service.Draw(s.ctx, "ann@x.io")
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyAssigned))
	})
}

func (s *ExchangeServiceSuite) TestStart() {
	s.Run("needs two active participants", func() {
		s.SetupTest()
		s.seed("ann@x.io")

		_, err := s.service.Start(s.ctx, nil)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("opens the exchange and invites every active participant", func() {
		s.SetupTest()
		s.seed("ann@x.io", "bob@x.io", "cat@x.io")
		date := time.Date(2026, 12, 24, 0, 0, 0, 0, time.UTC)
		s.notifier.EXPECT().Publish(gomock.Any(), ofKind(notify.KindExchangeStarted)).Return(nil).Times(3)

		settings, err := s.service.Start(s.ctx, &date)
		s.Require().NoError(err)
		s.True(settings.Started)
		s.Equal(s.now, settings.UpdatedAt)
		s.Equal(&date, settings.ExchangeDate)

		stored, err := s.store.GetSettings(s.ctx)
		s.Require().NoError(err)
		s.True(stored.Started)
	})

	s.Run("cannot start twice", func() {
		s.SetupTest()
		s.seed("ann@x.io", "bob@x.io")
		s.start()

		_, err := s.service.Start(s.ctx, nil)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *ExchangeServiceSuite) TestResetAndUndo() {
	s.seed("ann@x.io", "bob@x.io", "cat@x.io")
	s.start()
	for giver, receiver := range map[string]string{"ann@x.io": "bob@x.io", "bob@x.io": "cat@x.io"} {
		_, err := s.store.CreateMatchIfAbsent(s.ctx, &models.Match{Giver: giver, Receiver: receiver})
		s.Require().NoError(err)
	}

	s.Run("undo frees one match", func() {
		s.Require().NoError(s.service.Undo(s.ctx, "BOB@x.io"))
		_, err := s.service.MatchFor(s.ctx, "bob@x.io")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("undo of a missing match is not found", func() {
		err := s.service.Undo(s.ctx, "cat@x.io")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("reset clears matches and closes the exchange", func() {
		s.notifier.EXPECT().Publish(gomock.Any(), gomock.Cond(func(n notify.Notification) bool {
			return n.Kind == notify.KindExchangeReset && n.Recipient == "ann@x.io"
		})).Return(nil)
		s.Require().NoError(s.service.Reset(s.ctx))

		matches, err := s.service.Matches(s.ctx)
		s.Require().NoError(err)
		s.Empty(matches)

		status, err := s.service.Status(s.ctx)
		s.Require().NoError(err)
		s.False(status.Settings.Started)
		s.Len(status.PendingGivers, 3)
	})
}

func (s *ExchangeServiceSuite) TestStatusAndFeasibility() {
	s.seed("ann@x.io", "bob@x.io", "cat@x.io")
	_, err := s.store.CreateMatchIfAbsent(s.ctx, &models.Match{Giver: "ann@x.io", Receiver: "bob@x.io"})
	s.Require().NoError(err)

	status, err := s.service.Status(s.ctx)
	s.Require().NoError(err)
	s.Equal(3, status.ActiveParticipants)
	s.Equal(1, status.Drawn)
	s.Equal([]string{"bob@x.io", "cat@x.io"}, status.PendingGivers)

	report, err := s.service.Feasibility(s.ctx)
	s.Require().NoError(err)
	s.True(report.Feasible)

	match, err := s.service.MatchFor(s.ctx, "ann@x.io")
	s.Require().NoError(err)
	s.Equal("bob@x.io", match.Receiver)
}

type brokenTx struct{}

func (brokenTx) RunInTx(context.Context, func(Store) error) error {
	return errors.New("connection refused")
}

func (s *ExchangeServiceSuite) TestStoreFailuresAreInternal() {
	svc, err := New(s.drawer, brokenTx{})
	s.Require().NoError(err)

	_, err = svc.Draw(s.ctx, "ann@x.io")
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	_, err = svc.Status(s.ctx)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	s.True(dErrors.HasCode(svc.Reset(s.ctx), dErrors.CodeInternal))
}

func TestFullExchange(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	sink := notify.NewMemorySink()
	drawer, err := engine.New(tx.Adapt[*memory.Store, engine.Store](store, func(st *memory.Store) engine.Store { return st }))
	require.NoError(t, err)
	svc, err := New(drawer, storeTx(store), WithNotifier(notify.NewPublisher(sink)))
	require.NoError(t, err)

	people := []string{"ann@x.io", "bob@x.io", "cat@x.io", "dan@x.io", "eve@x.io"}
	for _, id := range people {
		require.NoError(t, store.CreateParticipant(ctx, &dirmodels.Participant{ID: id, DisplayName: id, Active: true}))
	}

	testutil.Given(t, "an exchange that has started", func(t *testing.T) {
		_, err := svc.Start(ctx, nil)
		require.NoError(t, err)

		testutil.When(t, "every participant draws", func(t *testing.T) {
			for _, id := range people {
				_, err := svc.Draw(ctx, id)
				require.NoError(t, err)
			}

			testutil.Then(t, "everyone gives and receives exactly once", func(t *testing.T) {
				matches, err := svc.Matches(ctx)
				require.NoError(t, err)
				require.Len(t, matches, len(people))
				received := map[string]bool{}
				for _, m := range matches {
					require.NotEqual(t, m.Giver, m.Receiver)
					require.False(t, received[m.Receiver])
					received[m.Receiver] = true
				}
			})

			testutil.And(t, "each giver was told who they drew", func(t *testing.T) {
				for _, id := range people {
					kinds := map[notify.Kind]int{}
					for _, n := range sink.For(id) {
						kinds[n.Kind]++
					}
					require.Equal(t, 1, kinds[notify.KindExchangeStarted], id)
					require.Equal(t, 1, kinds[notify.KindMatchDrawn], id)
				}
			})
		})
	})
}

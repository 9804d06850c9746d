package service

import (
	"context"
	"database/sql"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dan9191/note-lending/internal/ledger"
	"github.com/Dan9191/note-lending/internal/lock"
	"github.com/Dan9191/note-lending/internal/notify"
	"github.com/Dan9191/note-lending/internal/registry"
	"github.com/Dan9191/note-lending/internal/repository"
	"github.com/Dan9191/note-lending/internal/testutil"
)

func postgresEngine(db *sql.DB) (*Engine, *registry.Postgres) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	reg := registry.NewPostgres(db)
	engine := NewEngine(repository.NewRepository(db), reg, ledger.NewPostgres(db), lock.NewMemory(),
		notify.NewRecorder(64), log, Options{EarlyPayoffFeeBps: 300, AccelerationThreshold: 3})
	engine.WithClock(func() time.Time { return testNow })
	reg.Subscribe(engine.HandleOwnershipChange)
	return engine, reg
}

func TestPostgres_NotesSurviveRestart(t *testing.T) {
	db := testutil.Postgres(t)
	ctx := context.Background()

	first, reg := postgresEngine(db)
	_, err := reg.Mint(ctx, "note-1", borrower, lender)
	require.NoError(t, err)
	terms := standardTerms()
	terms.NoteID = "note-1"
	terms.PaymentDay = 15
	terms.PenaltyRateBps = 900
	_, err = first.RegisterSchedule(ctx, terms)
	require.NoError(t, err)
	_, err = ledger.NewPostgres(db).Deposit(ctx, borrower, 2_000_000)
	require.NoError(t, err)

	res, err := first.ProcessCycle(ctx, "note-1")
	require.NoError(t, err)
	assert.Equal(t, lender, res.Payment.To)

	// a fresh process sees the note, its obligor and rights holder
	second, reg2 := postgresEngine(db)
	require.NoError(t, reg2.TransferRights(ctx, "note-1", "wallet-buyer"))

	res, err = second.ProcessCycle(ctx, "note-1")
	require.NoError(t, err)
	assert.Equal(t, 10, res.Record.RemainingPeriods)
	assert.Equal(t, borrower, res.Payment.From)
	assert.Equal(t, "wallet-buyer", res.Payment.To)

	bal, err := ledger.NewPostgres(db).BalanceOf(ctx, "wallet-buyer")
	require.NoError(t, err)
	assert.Equal(t, res.Payment.Total, bal)
}

package database

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"goatclash/internal/game"
)

func mustStartPostgresContainer() (func(context.Context, ...testcontainers.TerminateOption) error, error) {
	var (
		dbName = "database"
		dbPwd  = "password"
		dbUser = "user"
	)

	// Create context with timeout to prevent hanging
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dbContainer, err := postgres.Run(
		ctx,
		"postgres:16-alpine",
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPwd),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, err
	}

	database = dbName
	password = dbPwd
	username = dbUser

	dbHost, err := dbContainer.Host(context.Background())
	if err != nil {
		return dbContainer.Terminate, err
	}

	dbPort, err := dbContainer.MappedPort(context.Background(), "5432/tcp")
	if err != nil {
		return dbContainer.Terminate, err
	}

	host = dbHost
	port = dbPort.Port()

	db, err := sql.Open("pgx", URL())
	if err != nil {
		return dbContainer.Terminate, err
	}
	defer db.Close()
	if err := RunMigrations(db, "../../migrations"); err != nil {
		return dbContainer.Terminate, err
	}

	return dbContainer.Terminate, nil
}

func TestMain(m *testing.M) {
	// Skip integration tests if SKIP_INTEGRATION env var is set
	if os.Getenv("SKIP_INTEGRATION") != "" {
		os.Exit(0)
	}

	// Skip if Docker is not available
	if os.Getenv("CI") == "" && !isDockerAvailable() {
		os.Exit(0)
	}

	teardown, err := mustStartPostgresContainer()
	if err != nil {
		// Don't fail, just skip tests if container can't start
		os.Exit(0)
	}

	code := m.Run()

	if teardown != nil {
		teardown(context.Background())
	}

	os.Exit(code)
}

func isDockerAvailable() (ok bool) {
	// testcontainers panics when it finds no docker host at all
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		return false
	}
	defer provider.Close()

	_, err = provider.DaemonHost(ctx)
	return err == nil
}

func mustNew(t *testing.T) Service {
	t.Helper()
	srv, err := New(zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv
}

func TestNew(t *testing.T) {
	srv := mustNew(t)
	if srv == nil {
		t.Fatal("New() returned nil")
	}
}

func TestHealth(t *testing.T) {
	srv := mustNew(t)

	stats := srv.Health()

	if stats["status"] != "up" {
		t.Fatalf("expected status to be up, got %s", stats["status"])
	}

	if _, ok := stats["error"]; ok {
		t.Fatalf("expected error not to be present")
	}

	if stats["message"] != "It's healthy" {
		t.Fatalf("expected message to be 'It's healthy', got %s", stats["message"])
	}
}

func TestMigrationVersion(t *testing.T) {
	version, dirty, err := GetMigrationVersion(mustNew(t).DB(), "../../migrations")
	if err != nil {
		t.Fatalf("GetMigrationVersion() error = %v", err)
	}
	if version != 2 || dirty {
		t.Fatalf("version = %d dirty = %v, want 2 clean", version, dirty)
	}
}

func testEvent(seq uint64, bet game.BetView, locked string) game.Event {
	return game.Event{
		Seq:  seq,
		Type: game.EventBetPlaced,
		Bet:  &bet,
		State: game.StateView{
			Token:     common.HexToAddress("0xc0"),
			Locked:    locked,
			Jackpot:   "0",
			MaxProfit: "100000",
			Pending:   1,
			Seq:       seq,
		},
	}
}

func TestProjectorSnapshot(t *testing.T) {
	store := NewStore(mustNew(t).DB())
	p := NewProjector(store, zerolog.Nop())
	ctx := context.Background()

	placed := time.Now().UTC().Truncate(time.Second)
	pending := game.BetView{
		Commitment:  common.HexToHash("0x01"),
		Bettor:      common.HexToAddress("0xa1"),
		Amount:      "1000",
		Mask:        1,
		Modulo:      2,
		CommitBlock: 120,
		PossibleWin: "1960",
		HouseEdge:   "20",
		JackpotFee:  "0",
		Status:      game.StatusPending,
		PlacedAt:    placed,
	}
	resolved := pending
	resolved.Commitment = common.HexToHash("0x02")
	resolved.CommitBlock = 110

	if err := p.Handle(ctx, testEvent(1, pending, "1960")); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if err := p.Handle(ctx, testEvent(2, resolved, "3920")); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	settled := resolved
	settled.Status = game.StatusSettled
	settled.Won = true
	settled.Payout = "1960"
	settled.ResolvedAt = &placed
	ev := testEvent(3, settled, "1960")
	ev.Type = game.EventPayment
	if err := p.Handle(ctx, ev); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	// a replayed older event must not undo the settlement
	if err := p.Handle(ctx, testEvent(2, resolved, "3920")); err != nil {
		t.Fatalf("replay error = %v", err)
	}

	snap, ok, err := store.LoadSnapshot(ctx)
	if err != nil || !ok {
		t.Fatalf("LoadSnapshot() = %v, %v", ok, err)
	}
	if snap.State.Seq != 3 || snap.State.Locked != "1960" {
		t.Errorf("state = %+v, want seq 3 locked 1960", snap.State)
	}
	if len(snap.Pending) != 1 || snap.Pending[0].Commitment != pending.Commitment {
		t.Errorf("pending = %+v", snap.Pending)
	}
	if len(snap.Spent) != 1 || snap.Spent[0] != resolved.Commitment {
		t.Errorf("spent = %v", snap.Spent)
	}

	got, err := store.GetBet(ctx, resolved.Commitment)
	if err != nil || got == nil {
		t.Fatalf("GetBet() = %v, %v", got, err)
	}
	if got.Status != game.StatusSettled || got.Payout != "1960" {
		t.Errorf("GetBet() = %+v", got)
	}

	bets, err := store.ListBets(ctx, BetFilter{Status: game.StatusSettled})
	if err != nil {
		t.Fatalf("ListBets() error = %v", err)
	}
	if len(bets) != 1 || !bets[0].Won {
		t.Errorf("ListBets(settled) = %+v", bets)
	}

	miss, err := store.GetBet(ctx, common.HexToHash("0xff"))
	if err != nil || miss != nil {
		t.Errorf("GetBet(miss) = %v, %v", miss, err)
	}
}

func TestClose(t *testing.T) {
	srv := mustNew(t)

	if srv.Close() != nil {
		t.Fatalf("expected Close() to return nil")
	}
}

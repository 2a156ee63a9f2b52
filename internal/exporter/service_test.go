package exporter

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"crconsync/pkg/config"
	"crconsync/pkg/delivery"
	"crconsync/pkg/extract"
	"crconsync/pkg/logger"
	"crconsync/pkg/model"
	"crconsync/pkg/state"
)

type MockSender struct{ mock.Mock }

func (m *MockSender) Deliver(ctx context.Context, p model.Payload) error {
	return m.Called(ctx, p).Error(0)
}
func (m *MockSender) Target() string { return "mock://sink" }
func (m *MockSender) Close() error   { return nil }

type brokenStore struct {
	state.Store
	saveErr error
}

func (b brokenStore) Save(context.Context, state.CursorState) error { return b.saveErr }

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		Database: config.DatabaseConfig{Host: "db", Port: 5432, Name: "rcon", User: "rcon", Password: "hunter2"},
		Sync: config.SyncConfig{
			Enabled:   true,
			ServerID:  "crcon_server_001",
			BatchSize: testSizes,
		},
	}
}

func memStore(t *testing.T, initial *state.CursorState) state.Store {
	t.Helper()
	store := state.NewFileStoreFs(afero.NewMemMapFs(), "/data/external_sync_state.json", logger.Nop())
	if initial != nil {
		require.NoError(t, store.Save(context.Background(), *initial))
	}
	return store
}

func scenarioState() state.CursorState {
	st := state.Default()
	st.LastExportedIDs = state.Counters{LogLines: 100, PlayerSessions: 50, PlayerStats: 0, MapHistory: 10}
	st.ExportCount = 3
	return st
}

func openSourceDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	schema, err := os.ReadFile("../../pkg/extract/testdata/schema.sql")
	require.NoError(t, err)
	_, err = db.Exec(string(schema))
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO steam_id_64 (id, steam_id_64) VALUES (1, '76561198000000001'), (2, '76561198000000002')`)
	require.NoError(t, err)
	at := time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)
	for id := 96; id <= 105; id++ {
		_, err = db.Exec(`INSERT INTO log_lines (id, event_time, type, player1_steamid, player2_steamid, weapon, server)
			VALUES (?, ?, 'KILL', 1, 2, 'M1 GARAND', '1')`, id, at.Add(time.Duration(id)*time.Second))
		require.NoError(t, err)
	}
	return db
}

func newScenarioService(t *testing.T, db *sql.DB, store state.Store, sender delivery.Sender) *Service {
	cfg := testConfig()
	src := extract.New(db, extract.Config{
		Dialect:       "sqlite3",
		ServerNumbers: []int64{1},
		ServerNames:   extract.ServerNames{"1": "Server-DE-01"},
	}, logger.Nop())
	s := NewService(cfg, store, NewAssembler(src, cfg.Sync.ServerID, cfg.Sync.BatchSize, false, logger.Nop()), sender, logger.Nop())
	s.now = func() time.Time { return time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestRunOnceCommitsAfterDelivery(t *testing.T) {
	var received model.Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Write([]byte(`{"success": true}`))
	}))
	defer srv.Close()

	initial := scenarioState()
	store := memStore(t, &initial)
	sender := delivery.NewHTTPSender(delivery.HTTPConfig{URL: srv.URL, Timeout: time.Second, MaxRetries: 1}, logger.Nop())
	s := newScenarioService(t, openSourceDB(t), store, sender)

	out := s.RunOnce(context.Background())
	require.NoError(t, out.Err)
	assert.Equal(t, Committed, out.Phase)
	assert.True(t, out.Delivered)
	assert.Equal(t, model.Counts{LogLines: 5}, out.Counts)

	assert.Equal(t, "crcon_server_001", received.ServerID)
	assert.Len(t, received.LogLines, 5)
	assert.Empty(t, received.Maps)
	assert.Empty(t, received.PlayerSessions)
	assert.Empty(t, received.PlayerStats)

	saved, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, state.Counters{LogLines: 105, PlayerSessions: 50, PlayerStats: 0, MapHistory: 10}, saved.LastExportedIDs)
	assert.Equal(t, int64(4), saved.ExportCount)
	assert.Equal(t, int64(5), saved.TotalExported.LogLines)
	assert.Nil(t, saved.LastError)
	require.NotNil(t, saved.LastSuccess)
	assert.Equal(t, "2024-05-02T12:00:00", saved.LastSuccess.Format("2006-01-02T15:04:05"))
	assert.Equal(t, Committed, s.Phase())

	// Nothing new on the second run: no request, no write.
	srv.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected delivery")
	})
	out = s.RunOnce(context.Background())
	assert.Equal(t, Committed, out.Phase)
	assert.False(t, out.Delivered)

	again, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, saved, again)
}

func TestRunOnceFailureKeepsCursors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	initial := scenarioState()
	store := memStore(t, &initial)
	sender := delivery.NewHTTPSender(delivery.HTTPConfig{URL: srv.URL, Timeout: time.Second, MaxRetries: 2, RetryDelay: time.Millisecond}, logger.Nop())
	s := newScenarioService(t, openSourceDB(t), store, sender)

	out := s.RunOnce(context.Background())
	assert.Equal(t, Failed, out.Phase)
	assert.ErrorIs(t, out.Err, delivery.ErrRetriesExhausted)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, initial.LastExportedIDs, out.Cursors)

	saved, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, state.Counters{LogLines: 100, PlayerSessions: 50, PlayerStats: 0, MapHistory: 10}, saved.LastExportedIDs)
	assert.Equal(t, initial.TotalExported, saved.TotalExported)
	assert.Nil(t, saved.LastSuccess)
	require.NotNil(t, saved.LastError)
	assert.Equal(t, "HTTP 502", *saved.LastError)
	assert.Equal(t, int64(4), saved.ExportCount)
	assert.Equal(t, Failed, s.Phase())
}

func TestRunOnceNothingNewSkipsDelivery(t *testing.T) {
	sender := new(MockSender)
	store := memStore(t, nil)
	s := NewService(testConfig(), store, NewAssembler(stepSource{0}, "s", testSizes, false, logger.Nop()), sender, logger.Nop())

	out := s.RunOnce(context.Background())
	assert.Equal(t, Committed, out.Phase)
	assert.False(t, out.Delivered)
	sender.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything)

	removed, err := store.Reset(context.Background())
	require.NoError(t, err)
	assert.False(t, removed, "nothing should have been written")
}

func TestRunOnceDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Sync.Enabled = false
	src := new(MockSource)
	sender := new(MockSender)

	s := NewService(cfg, memStore(t, nil), NewAssembler(src, "s", testSizes, false, logger.Nop()), sender, logger.Nop())
	out := s.RunOnce(context.Background())

	assert.True(t, out.Disabled)
	assert.Equal(t, Idle, out.Phase)
	src.AssertNotCalled(t, "LogLines", mock.Anything, mock.Anything)
	sender.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything)
}

func TestRunOnceSaveFailure(t *testing.T) {
	sender := new(MockSender)
	sender.On("Deliver", mock.Anything, mock.Anything).Return(nil)
	store := brokenStore{Store: memStore(t, nil), saveErr: errors.New("disk full")}

	s := NewService(testConfig(), store, NewAssembler(stepSource{2}, "s", testSizes, false, logger.Nop()), sender, logger.Nop())
	out := s.RunOnce(context.Background())

	assert.Equal(t, Failed, out.Phase)
	assert.True(t, out.Delivered)
	assert.ErrorContains(t, out.Err, "disk full")
}

func TestRunOnceSendsSnapshotPayload(t *testing.T) {
	sender := new(MockSender)
	sender.On("Deliver", mock.Anything, mock.MatchedBy(func(p model.Payload) bool {
		return p.ServerID == "s" && p.Counts() == model.Counts{Maps: 3, LogLines: 3, PlayerSessions: 3, PlayerStats: 3}
	})).Return(nil).Once()

	initial := scenarioState()
	store := memStore(t, &initial)
	s := NewService(testConfig(), store, NewAssembler(stepSource{3}, "s", testSizes, true, logger.Nop()), sender, logger.Nop())

	out := s.RunOnce(context.Background())
	require.NoError(t, out.Err)
	sender.AssertExpectations(t)
	assert.Equal(t, state.Counters{LogLines: 103, PlayerSessions: 53, PlayerStats: 3, MapHistory: 13}, out.Cursors)
}

func TestLoopStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sender := new(MockSender)
	sender.On("Deliver", mock.Anything, mock.Anything).Return(nil).Run(func(mock.Arguments) { cancel() })

	s := NewService(testConfig(), memStore(t, nil), NewAssembler(stepSource{1}, "s", testSizes, false, logger.Nop()), sender, logger.Nop())

	done := make(chan error, 1)
	go func() { done <- s.Loop(ctx, time.Hour) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
	sender.AssertNumberOfCalls(t, "Deliver", 1)
}

func TestStatusAndReset(t *testing.T) {
	initial := scenarioState()
	msg := "HTTP 502"
	initial.LastError = &msg
	store := memStore(t, &initial)
	sender := new(MockSender)
	s := NewService(testConfig(), store, NewAssembler(stepSource{0}, "s", testSizes, false, logger.Nop()), sender, logger.Nop())

	st, err := s.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Enabled)
	assert.Equal(t, "crcon_server_001", st.ServerID)
	assert.Equal(t, initial.LastExportedIDs, st.LastExportedIDs)
	assert.Equal(t, int64(3), st.ExportCount)
	assert.Equal(t, "HTTP 502", *st.LastError)
	assert.Equal(t, DatabaseInfo{Host: "db", Port: 5432, Name: "rcon", User: "rcon"}, st.Database)
	assert.Equal(t, "mock://sink", st.Target)
	assert.Equal(t, "file:///data/external_sync_state.json", st.StateLocation)

	encoded, err := json.Marshal(st)
	require.NoError(t, err)
	assert.NotContains(t, string(encoded), "hunter2")

	require.NoError(t, s.Reset(context.Background()))
	st, err = s.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, state.Counters{}, st.LastExportedIDs)
	assert.Nil(t, st.LastError)
}

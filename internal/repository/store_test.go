package repository

import (
	"context"
	"errors"
	"github.com/jaam8/poll_ledger/internal/address"
	"github.com/jaam8/poll_ledger/internal/models"
	tnt "github.com/jaam8/poll_ledger/pkg/tarantool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
)

func testAddress(t *testing.T, seed string) address.Address {
	t.Helper()
	addr, _, err := address.Derive(address.DefaultProgram, "test", []byte(seed))
	require.NoError(t, err)
	return addr
}

func runStoreContract(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("create then read", func(t *testing.T) {
		addr := testAddress(t, "create-read")
		require.NoError(t, store.Create(ctx, addr, []byte("v1")))

		got, err := store.Read(ctx, addr)
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), got)
	})

	t.Run("create twice keeps first value", func(t *testing.T) {
		addr := testAddress(t, "create-twice")
		require.NoError(t, store.Create(ctx, addr, []byte("first")))
		assert.ErrorIs(t, store.Create(ctx, addr, []byte("second")), models.ErrAlreadyExists)

		got, err := store.Read(ctx, addr)
		require.NoError(t, err)
		assert.Equal(t, []byte("first"), got)
	})

	t.Run("read missing", func(t *testing.T) {
		_, err := store.Read(ctx, testAddress(t, "missing"))
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("commit guard and mutations", func(t *testing.T) {
		guard := testAddress(t, "commit-guard")
		counter := testAddress(t, "commit-counter")
		require.NoError(t, store.Create(ctx, counter, []byte("1")))

		require.NoError(t, store.Commit(ctx, &Entry{Addr: guard, Value: []byte("g")},
			Mutation{Addr: counter, Fn: appendByte('2')},
			Mutation{Addr: counter, Fn: appendByte('3')}))

		got, err := store.Read(ctx, guard)
		require.NoError(t, err)
		assert.Equal(t, []byte("g"), got)
		got, err = store.Read(ctx, counter)
		require.NoError(t, err)
		assert.Equal(t, []byte("123"), got)
	})

	t.Run("commit with existing guard writes nothing", func(t *testing.T) {
		guard := testAddress(t, "commit-dup-guard")
		counter := testAddress(t, "commit-dup-counter")
		require.NoError(t, store.Create(ctx, guard, []byte("first")))
		require.NoError(t, store.Create(ctx, counter, []byte("1")))

		err := store.Commit(ctx, &Entry{Addr: guard, Value: []byte("second")},
			Mutation{Addr: counter, Fn: appendByte('2')})
		assert.ErrorIs(t, err, models.ErrAlreadyExists)
		assertValue(t, store, guard, "first")
		assertValue(t, store, counter, "1")
	})

	t.Run("commit with missing target writes nothing", func(t *testing.T) {
		guard := testAddress(t, "commit-missing-guard")
		counter := testAddress(t, "commit-missing-counter")
		require.NoError(t, store.Create(ctx, counter, []byte("1")))

		err := store.Commit(ctx, &Entry{Addr: guard, Value: []byte("g")},
			Mutation{Addr: counter, Fn: appendByte('2')},
			Mutation{Addr: testAddress(t, "commit-nowhere"), Fn: appendByte('x')})
		assert.ErrorIs(t, err, models.ErrNotFound)
		_, err = store.Read(ctx, guard)
		assert.ErrorIs(t, err, models.ErrNotFound)
		assertValue(t, store, counter, "1")
	})

	t.Run("aborted commit writes nothing", func(t *testing.T) {
		guard := testAddress(t, "commit-abort-guard")
		first := testAddress(t, "commit-abort-first")
		second := testAddress(t, "commit-abort-second")
		require.NoError(t, store.Create(ctx, first, []byte("keep")))
		require.NoError(t, store.Create(ctx, second, []byte("keep")))
		boom := errors.New("boom")

		err := store.Commit(ctx, &Entry{Addr: guard, Value: []byte("g")},
			Mutation{Addr: first, Fn: appendByte('!')},
			Mutation{Addr: second, Fn: func([]byte) ([]byte, error) { return nil, boom }})
		assert.ErrorIs(t, err, boom)
		_, err = store.Read(ctx, guard)
		assert.ErrorIs(t, err, models.ErrNotFound)
		assertValue(t, store, first, "keep")
		assertValue(t, store, second, "keep")
	})

	t.Run("cancelled commit writes nothing", func(t *testing.T) {
		guard := testAddress(t, "commit-cancel-guard")
		counter := testAddress(t, "commit-cancel-counter")
		require.NoError(t, store.Create(ctx, counter, []byte("1")))
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		err := store.Commit(cancelled, &Entry{Addr: guard, Value: []byte("g")},
			Mutation{Addr: counter, Fn: appendByte('2')})
		assert.ErrorIs(t, err, context.Canceled)
		_, err = store.Read(ctx, guard)
		assert.ErrorIs(t, err, models.ErrNotFound)
		assertValue(t, store, counter, "1")
	})

	t.Run("concurrent guards have one winner", func(t *testing.T) {
		guard := testAddress(t, "race")
		counter := testAddress(t, "race-counter")
		require.NoError(t, store.Create(ctx, counter, []byte("0")))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := store.Commit(ctx, &Entry{Addr: guard, Value: []byte(strconv.Itoa(i))},
					Mutation{Addr: counter, Fn: increment})
				if err == nil {
					wins.Add(1)
					return
				}
				assert.ErrorIs(t, err, models.ErrAlreadyExists)
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
		assertValue(t, store, counter, "1")
	})

	t.Run("concurrent increments are not lost", func(t *testing.T) {
		counter := testAddress(t, "counter")
		require.NoError(t, store.Create(ctx, counter, []byte("0")))

		var wg sync.WaitGroup
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, store.Commit(ctx, nil, Mutation{Addr: counter, Fn: increment}))
			}()
		}
		wg.Wait()

		assertValue(t, store, counter, "32")
	})
}

func appendByte(b byte) UpdateFunc {
	return func(cur []byte) ([]byte, error) {
		return append(cur, b), nil
	}
}

func increment(cur []byte) ([]byte, error) {
	n, err := strconv.Atoi(string(cur))
	if err != nil {
		return nil, err
	}
	return []byte(strconv.Itoa(n + 1)), nil
}

func assertValue(t *testing.T, store Store, addr address.Address, want string) {
	t.Helper()
	got, err := store.Read(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, want, string(got))
}

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestMemoryStoreReadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	addr := testAddress(t, "copy")
	require.NoError(t, store.Create(ctx, addr, []byte("abc")))

	got, err := store.Read(ctx, addr)
	require.NoError(t, err)
	got[0] = 'z'

	again, err := store.Read(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}

func TestGormStoreContract(t *testing.T) {
	// writers queue on the sqlite lock instead of failing with SQLITE_BUSY
	dsn := filepath.Join(t.TempDir(), "ledger.db") + "?_busy_timeout=10000&_txlock=immediate&_journal_mode=WAL"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	store := NewGormStore(db, zap.NewNop())
	require.NoError(t, store.Migrate(context.Background()))
	runStoreContract(t, store)
}

func TestTarantoolStoreContract(t *testing.T) {
	addr := os.Getenv("TARANTOOL_ADDR")
	if addr == "" {
		t.Skip("TARANTOOL_ADDR is not set")
	}
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err, "TARANTOOL_ADDR must be host:port")

	conn, err := tnt.New(tnt.Config{
		Host:     host,
		Port:     port,
		Username: os.Getenv("TARANTOOL_USER"),
		Password: os.Getenv("TARANTOOL_PASSWORD"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	_, err = conn.Eval("box.space.entities:truncate()", []interface{}{})
	require.NoError(t, err)

	runStoreContract(t, NewTarantoolStore(conn, zap.NewNop()))
}


package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// MockDB implements database.DBTX for testing
type MockDB struct {
	mu    sync.Mutex
	locks map[int64]bool
	err   error
}

func NewMockDB() *MockDB {
	return &MockDB{
		locks: make(map[int64]bool),
	}
}

func (m *MockDB) QueryRow(ctx context.Context, query string, args ...interface{}) pgx.Row {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return &MockRow{err: m.err}
	}

	if len(args) > 0 {
		lockID := args[0].(int64)

		if query == "SELECT pg_try_advisory_lock($1)" {
			if m.locks[lockID] {
				return &MockRow{value: false}
			}
			m.locks[lockID] = true
			return &MockRow{value: true}
		}

		if query == "SELECT pg_advisory_unlock($1)" {
			wasHeld := m.locks[lockID]
			delete(m.locks, lockID)
			return &MockRow{value: wasHeld}
		}
	}

	return &MockRow{value: false}
}

func (m *MockDB) Query(ctx context.Context, query string, args ...interface{}) (pgx.Rows, error) {
	return nil, nil
}

func (m *MockDB) Exec(ctx context.Context, query string, args ...interface{}) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (m *MockDB) release(lockID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, lockID)
}

// MockRow implements pgx.Row for testing
type MockRow struct {
	value interface{}
	err   error
}

func (m *MockRow) Scan(dest ...interface{}) error {
	if m.err != nil {
		return m.err
	}
	if len(dest) > 0 {
		switch v := dest[0].(type) {
		case *bool:
			*v = m.value.(bool)
		}
	}
	return nil
}

func TestLockManager(t *testing.T) {
	lockManager := NewPostgreSQLLockManager(NewMockDB(), "eu-north-1")
	ctx := context.Background()

	acquired, err := lockManager.AcquireLock(ctx, "take_snapshots")
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	if !acquired {
		t.Fatal("Expected to acquire lock but didn't")
	}

	acquired2, err := lockManager.AcquireLock(ctx, "take_snapshots")
	if err != nil {
		t.Fatalf("Failed to attempt second lock acquisition: %v", err)
	}
	if acquired2 {
		t.Fatal("Expected second lock acquisition to fail but it succeeded")
	}

	if err := lockManager.ReleaseLock(ctx, "take_snapshots"); err != nil {
		t.Fatalf("Failed to release lock: %v", err)
	}

	acquired3, err := lockManager.AcquireLock(ctx, "take_snapshots")
	if err != nil {
		t.Fatalf("Failed to acquire lock after release: %v", err)
	}
	if !acquired3 {
		t.Fatal("Expected to acquire lock after release but didn't")
	}
}

func TestLockManager_QueryError(t *testing.T) {
	db := NewMockDB()
	db.err = errors.New("connection reset")
	lockManager := NewPostgreSQLLockManager(db, "eu-north-1")

	acquired, err := lockManager.AcquireLock(context.Background(), "take_snapshots")
	if err == nil {
		t.Fatal("Expected error from failing query")
	}
	if acquired {
		t.Error("Expected lock not to be acquired on error")
	}
}

func TestLockID(t *testing.T) {
	north := NewPostgreSQLLockManager(NewMockDB(), "eu-north-1")
	central := NewPostgreSQLLockManager(NewMockDB(), "eu-central-1")

	if north.LockID("take_snapshots") != north.LockID("take_snapshots") {
		t.Error("LockID is not stable")
	}
	if north.LockID("take_snapshots") == north.LockID("delete_snapshots") {
		t.Error("Different jobs share a lock id")
	}
	if north.LockID("take_snapshots") == central.LockID("take_snapshots") {
		t.Error("Different namespaces share a lock id")
	}
	for _, name := range []string{"take_snapshots", "delete_snapshots", "instance_snapshot"} {
		if id := north.LockID(name); id < 0 {
			t.Errorf("LockID(%s) = %d, want non-negative", name, id)
		}
	}
}

func TestAcquireLockWithTimeout(t *testing.T) {
	ctx := context.Background()

	t.Run("times out while held", func(t *testing.T) {
		lockManager := NewPostgreSQLLockManager(NewMockDB(), "eu-north-1")
		if ok, _ := lockManager.AcquireLock(ctx, "take_snapshots"); !ok {
			t.Fatal("setup: expected first acquisition to succeed")
		}

		start := time.Now()
		acquired, err := lockManager.AcquireLockWithTimeout(ctx, "take_snapshots", 100*time.Millisecond)
		if err != nil {
			t.Fatalf("Expected timeout to be reported as not acquired, got error %v", err)
		}
		if acquired {
			t.Fatal("Expected lock not to be acquired")
		}
		if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
			t.Errorf("Returned after %v, before the timeout", elapsed)
		}
	})

	t.Run("acquires once released", func(t *testing.T) {
		db := NewMockDB()
		lockManager := NewPostgreSQLLockManager(db, "eu-north-1")
		if ok, _ := lockManager.AcquireLock(ctx, "take_snapshots"); !ok {
			t.Fatal("setup: expected first acquisition to succeed")
		}

		go func() {
			time.Sleep(100 * time.Millisecond)
			db.release(lockManager.LockID("take_snapshots"))
		}()

		acquired, err := lockManager.AcquireLockWithTimeout(ctx, "take_snapshots", 5*time.Second)
		if err != nil {
			t.Fatalf("AcquireLockWithTimeout() error = %v", err)
		}
		if !acquired {
			t.Fatal("Expected lock to be acquired after release")
		}
	})
}

func TestLockedJob(t *testing.T) {
	ctx := context.Background()

	t.Run("runs and releases", func(t *testing.T) {
		lockManager := NewPostgreSQLLockManager(NewMockDB(), "eu-north-1")
		job := &mockJob{name: "take_snapshots", schedule: "0 * * * *"}
		locked := NewLockedJob(job, lockManager, 0)

		if locked.Name() != "take_snapshots" || locked.Schedule() != "0 * * * *" {
			t.Errorf("LockedJob does not pass through name and schedule: %s %s", locked.Name(), locked.Schedule())
		}

		if err := locked.Execute(ctx); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
		if job.executed.Load() != 1 {
			t.Fatalf("Expected job to run once, ran %d times", job.executed.Load())
		}

		acquired, _ := lockManager.AcquireLock(ctx, "take_snapshots")
		if !acquired {
			t.Error("Expected lock to be released after the run")
		}
	})

	t.Run("skips when held elsewhere", func(t *testing.T) {
		lockManager := NewPostgreSQLLockManager(NewMockDB(), "eu-north-1")
		if ok, _ := lockManager.AcquireLock(ctx, "take_snapshots"); !ok {
			t.Fatal("setup: expected first acquisition to succeed")
		}

		job := &mockJob{name: "take_snapshots", schedule: "0 * * * *"}
		if err := NewLockedJob(job, lockManager, 0).Execute(ctx); err != nil {
			t.Fatalf("Execute() error = %v, want nil for a skipped run", err)
		}
		if job.executed.Load() != 0 {
			t.Error("Expected job not to run while the lock is held")
		}
	})

	t.Run("propagates job error and still releases", func(t *testing.T) {
		lockManager := NewPostgreSQLLockManager(NewMockDB(), "eu-north-1")
		testError := errors.New("list failed")
		job := &mockJob{
			name:        "delete_snapshots",
			schedule:    "30 * * * *",
			executeFunc: func(ctx context.Context) error { return testError },
		}

		err := NewLockedJob(job, lockManager, 0).Execute(ctx)
		if !errors.Is(err, testError) {
			t.Fatalf("Execute() error = %v, want %v", err, testError)
		}
		if acquired, _ := lockManager.AcquireLock(ctx, "delete_snapshots"); !acquired {
			t.Error("Expected lock to be released after a failed run")
		}
	})

	t.Run("lock error fails the run", func(t *testing.T) {
		db := NewMockDB()
		db.err = errors.New("connection reset")
		job := &mockJob{name: "take_snapshots", schedule: "0 * * * *"}

		if err := NewLockedJob(job, NewPostgreSQLLockManager(db, "eu-north-1"), 0).Execute(ctx); err == nil {
			t.Fatal("Expected error when the lock query fails")
		}
		if job.executed.Load() != 0 {
			t.Error("Expected job not to run without the lock")
		}
	})
}

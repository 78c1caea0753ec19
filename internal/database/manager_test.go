package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	dbconfig "pollcast/pkg/database"
	"pollcast/pkg/interfaces"
	"pollcast/pkg/types"
)

// Test database setup helpers
func setupTestDB(t *testing.T) *Manager {
	t.Helper()

	config := dbconfig.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "test.db")

	manager, err := NewManager(config, nil)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	t.Cleanup(func() { _ = manager.Close() })

	if err := dbconfig.NewMigrationManager(manager.GetDB(), nil).ApplyMigrations(); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	return manager
}

func testSnapshot(id string) *types.PollSnapshot {
	return types.NewPoll(id, "Pizza or Tacos?", []types.Option{
		{ID: id + "-pizza", Text: "Pizza"},
		{ID: id + "-tacos", Text: "Tacos"},
	}, time.Now().UTC().Truncate(time.Second)).Snapshot()
}

func TestManager_InterfaceCompliance(t *testing.T) {
	var _ interfaces.PollRepository = &Manager{}
}

func TestManager_CreateAndLoad(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	poll := testSnapshot("poll1")
	if err := manager.CreatePoll(ctx, poll); err != nil {
		t.Fatalf("CreatePoll failed: %v", err)
	}

	loaded, err := manager.LoadPoll(ctx, "poll1")
	if err != nil {
		t.Fatalf("LoadPoll failed: %v", err)
	}

	if loaded.Question != poll.Question {
		t.Errorf("Expected question %q, got %q", poll.Question, loaded.Question)
	}
	if !loaded.IsActive {
		t.Error("Loaded poll should be active")
	}
	if len(loaded.Options) != 2 || loaded.Options[0].Text != "Pizza" || loaded.Options[1].Text != "Tacos" {
		t.Errorf("Options lost their order: %+v", loaded.Options)
	}
	if loaded.Voters == nil || len(loaded.Voters) != 0 {
		t.Errorf("Expected empty voter list, got %v", loaded.Voters)
	}
	if !loaded.CreatedAt.Equal(poll.CreatedAt) {
		t.Errorf("Expected created_at %v, got %v", poll.CreatedAt, loaded.CreatedAt)
	}
}

func TestManager_LoadMissing(t *testing.T) {
	manager := setupTestDB(t)

	_, err := manager.LoadPoll(context.Background(), "missing")
	if !errors.Is(err, types.ErrPollNotFound) {
		t.Errorf("Expected ErrPollNotFound, got %v", err)
	}
}

func TestManager_CreateDuplicateFails(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	if err := manager.CreatePoll(ctx, testSnapshot("poll1")); err != nil {
		t.Fatalf("CreatePoll failed: %v", err)
	}
	if err := manager.CreatePoll(ctx, testSnapshot("poll1")); err == nil {
		t.Error("Creating the same poll id twice should fail")
	}
}

func TestManager_SaveVotesAndVoters(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	snapshot := testSnapshot("poll1")
	if err := manager.CreatePoll(ctx, snapshot); err != nil {
		t.Fatalf("CreatePoll failed: %v", err)
	}

	poll := types.PollFromSnapshot(snapshot)
	poll.RecordVote(0, "voterA")
	if err := manager.SavePoll(ctx, poll.Snapshot()); err != nil {
		t.Fatalf("SavePoll failed: %v", err)
	}
	poll.RecordVote(1, "voterB")
	poll.RecordVote(1, "voterC")
	if err := manager.SavePoll(ctx, poll.Snapshot()); err != nil {
		t.Fatalf("SavePoll failed: %v", err)
	}

	loaded, err := manager.LoadPoll(ctx, "poll1")
	if err != nil {
		t.Fatalf("LoadPoll failed: %v", err)
	}

	if loaded.Options[0].Votes != 1 || loaded.Options[1].Votes != 2 {
		t.Errorf("Unexpected tallies: %+v", loaded.Options)
	}
	expected := []string{"voterA", "voterB", "voterC"}
	if fmt.Sprint(loaded.Voters) != fmt.Sprint(expected) {
		t.Errorf("Expected voters %v, got %v", expected, loaded.Voters)
	}
}

func TestManager_SaveCannotReopen(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	snapshot := testSnapshot("poll1")
	if err := manager.CreatePoll(ctx, snapshot); err != nil {
		t.Fatalf("CreatePoll failed: %v", err)
	}

	snapshot.IsActive = false
	if err := manager.SavePoll(ctx, snapshot); err != nil {
		t.Fatalf("SavePoll(close) failed: %v", err)
	}

	snapshot.IsActive = true
	if err := manager.SavePoll(ctx, snapshot); err != nil {
		t.Fatalf("SavePoll(reopen attempt) failed: %v", err)
	}

	loaded, err := manager.LoadPoll(ctx, "poll1")
	if err != nil {
		t.Fatalf("LoadPoll failed: %v", err)
	}
	if loaded.IsActive {
		t.Error("A closed poll must stay closed")
	}
}

func TestManager_SaveRejectsInconsistentSnapshots(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	snapshot := testSnapshot("poll1")
	if err := manager.CreatePoll(ctx, snapshot); err != nil {
		t.Fatalf("CreatePoll failed: %v", err)
	}

	t.Run("unknown poll", func(t *testing.T) {
		if err := manager.SavePoll(ctx, testSnapshot("ghost")); !errors.Is(err, types.ErrPollNotFound) {
			t.Errorf("Expected ErrPollNotFound, got %v", err)
		}
	})

	t.Run("unknown option", func(t *testing.T) {
		bad := *snapshot
		bad.Options = []types.Option{{ID: "nope", Text: "Nope", Votes: 1}}
		if err := manager.SavePoll(ctx, &bad); !errors.Is(err, ErrOptionSetMismatch) {
			t.Errorf("Expected ErrOptionSetMismatch, got %v", err)
		}
	})

	t.Run("dropped voters", func(t *testing.T) {
		poll := types.PollFromSnapshot(snapshot)
		poll.RecordVote(0, "voterA")
		if err := manager.SavePoll(ctx, poll.Snapshot()); err != nil {
			t.Fatalf("SavePoll failed: %v", err)
		}
		if err := manager.SavePoll(ctx, snapshot); !errors.Is(err, ErrVoterHistoryRewrite) {
			t.Errorf("Expected ErrVoterHistoryRewrite, got %v", err)
		}
	})

	t.Run("failed save leaves tallies untouched", func(t *testing.T) {
		loaded, err := manager.LoadPoll(ctx, "poll1")
		if err != nil {
			t.Fatalf("LoadPoll failed: %v", err)
		}
		if loaded.Options[0].Votes != 1 || len(loaded.Voters) != 1 {
			t.Errorf("Rolled back writes leaked: %+v voters=%v", loaded.Options, loaded.Voters)
		}
	})
}

func TestManager_ConcurrentWritesDifferentPolls(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	const polls = 10
	var wg sync.WaitGroup
	errs := make(chan error, polls)

	for i := 0; i < polls; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("poll%d", i)
			snapshot := testSnapshot(id)
			if err := manager.CreatePoll(ctx, snapshot); err != nil {
				errs <- err
				return
			}
			poll := types.PollFromSnapshot(snapshot)
			poll.RecordVote(i%2, "voter")
			errs <- manager.SavePoll(ctx, poll.Snapshot())
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Concurrent write failed: %v", err)
		}
	}
}

func TestManager_ClosedManagerRejectsWrites(t *testing.T) {
	manager := setupTestDB(t)
	if err := manager.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := manager.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}

	err := manager.CreatePoll(context.Background(), testSnapshot("poll1"))
	if !errors.Is(err, ErrManagerClosed) {
		t.Errorf("Expected ErrManagerClosed, got %v", err)
	}
}

func TestManager_HealthCheck(t *testing.T) {
	manager := setupTestDB(t)
	if err := manager.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
}

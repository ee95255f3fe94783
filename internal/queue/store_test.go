package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"muxd/internal/queue"
	"muxd/internal/testsupport"
)

func TestNewJobAndGetByID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.MustNewJob(t, store)
	if job.ID == "" {
		t.Fatal("expected job ID to be assigned")
	}
	if job.Status != queue.StatusQueued {
		t.Fatalf("expected queued status, got %s", job.Status)
	}

	fetched, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if fetched == nil || len(fetched.Inputs) != 2 {
		t.Fatalf("unexpected fetched job: %#v", fetched)
	}
	if video, ok := fetched.VideoInput(); !ok || video.URL != "https://media.test/video.mp4" {
		t.Fatalf("video input not preserved: %#v", fetched.Inputs)
	}
	if fetched.Options.Mode != "replace" {
		t.Fatalf("options not preserved: %#v", fetched.Options)
	}
}

func TestGetByIDMissingReturnsNil(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	job, err := store.GetByID(context.Background(), "no-such-job")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if job != nil {
		t.Fatalf("expected nil for missing job, got %#v", job)
	}
}

func TestIdempotencyKeyCollision(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	first := testsupport.MustNewJob(t, store, func(p *queue.NewJobParams) {
		p.IdempotencyKey = "key-1"
	})

	_, err := store.NewJob(ctx, queue.NewJobParams{
		Inputs:         first.Inputs,
		Options:        first.Options,
		IdempotencyKey: "key-1",
	})
	if err != queue.ErrDuplicateKey {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}

	existing, err := store.FindByIdempotencyKey(ctx, "key-1")
	if err != nil {
		t.Fatalf("FindByIdempotencyKey failed: %v", err)
	}
	if existing == nil || existing.ID != first.ID {
		t.Fatalf("expected existing job %s, got %#v", first.ID, existing)
	}
}

func TestClaimNextIsExclusive(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.MustNewJob(t, store)

	claimed, err := store.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if claimed == nil || claimed.ID != job.ID {
		t.Fatalf("expected to claim %s, got %#v", job.ID, claimed)
	}
	if claimed.Status != queue.StatusFetching {
		t.Fatalf("expected fetching after claim, got %s", claimed.Status)
	}
	if claimed.LastHeartbeat == nil {
		t.Fatal("expected heartbeat set on claim")
	}

	second, err := store.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("second ClaimNext failed: %v", err)
	}
	if second != nil {
		t.Fatalf("expected empty queue after claim, got %#v", second)
	}
}

func TestClaimNextConcurrentWorkers(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	const jobs = 8
	for i := 0; i < jobs; i++ {
		testsupport.MustNewJob(t, store)
	}

	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
		wg      sync.WaitGroup
	)
	for worker := 0; worker < 4; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := store.ClaimNext(ctx)
				if err != nil {
					t.Errorf("ClaimNext failed under contention: %v", err)
					return
				}
				if job == nil {
					return
				}
				mu.Lock()
				claimed[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claimed) != jobs {
		t.Fatalf("expected %d distinct jobs claimed, got %d", jobs, len(claimed))
	}
	for id, count := range claimed {
		if count != 1 {
			t.Fatalf("job %s claimed %d times", id, count)
		}
	}
}

func TestClaimNextOrdersByCreation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	first := testsupport.MustNewJob(t, store)
	time.Sleep(5 * time.Millisecond)
	testsupport.MustNewJob(t, store)

	claimed, err := store.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if claimed == nil || claimed.ID != first.ID {
		t.Fatalf("expected oldest job %s first, got %#v", first.ID, claimed)
	}
}

func TestCancelQueuedOnlyAffectsQueuedJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.MustNewJob(t, store)

	ok, err := store.CancelQueued(ctx, job.ID)
	if err != nil {
		t.Fatalf("CancelQueued failed: %v", err)
	}
	if !ok {
		t.Fatal("expected queued job to cancel")
	}

	cancelled, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if cancelled.Status != queue.StatusFailed || cancelled.ErrorKind != queue.ErrorKindCancelled {
		t.Fatalf("unexpected state after cancel: %s %s", cancelled.Status, cancelled.ErrorKind)
	}

	again, err := store.CancelQueued(ctx, job.ID)
	if err != nil {
		t.Fatalf("CancelQueued failed: %v", err)
	}
	if again {
		t.Fatal("terminal job must not cancel again")
	}
}

func TestTerminalStateExclusivity(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	done := testsupport.MustNewJob(t, store)
	done.SetDone("https://minio.test/media/merged/x.mp4")
	if err := store.Update(ctx, done); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	failed := testsupport.MustNewJob(t, store)
	failed.ResultURL = "leftover"
	failed.SetFailed(queue.ErrorKindEncodeCrash, "encoder exited 1")
	if err := store.Update(ctx, failed); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	gotDone, _ := store.GetByID(ctx, done.ID)
	if gotDone.ResultURL == "" || gotDone.ErrorKind != "" || gotDone.ErrorMessage != "" {
		t.Fatalf("done job must carry result and no error: %#v", gotDone)
	}

	gotFailed, _ := store.GetByID(ctx, failed.ID)
	if gotFailed.ResultURL != "" || gotFailed.ErrorKind == "" || gotFailed.ErrorMessage == "" {
		t.Fatalf("failed job must carry error and no result: %#v", gotFailed)
	}
}

func TestReclaimStale(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.MustNewJob(t, store)
	claimed, err := store.ClaimNext(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext failed: %v %v", claimed, err)
	}

	// Cutoff in the future makes the fresh heartbeat look expired.
	count, err := store.ReclaimStale(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("ReclaimStale failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 reclaimed job, got %d", count)
	}

	reclaimed, err := store.GetByID(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if reclaimed.Status != queue.StatusQueued {
		t.Fatalf("expected queued after reclaim, got %s", reclaimed.Status)
	}
	if reclaimed.Attempts != 1 {
		t.Fatalf("expected attempt counter bump, got %d", reclaimed.Attempts)
	}
	if reclaimed.LastHeartbeat != nil {
		t.Fatal("expected heartbeat cleared after reclaim")
	}
}

func TestReclaimStaleIgnoresFreshHeartbeats(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.MustNewJob(t, store)
	if _, err := store.ClaimNext(ctx); err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}

	count, err := store.ReclaimStale(ctx, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("ReclaimStale failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("fresh heartbeat should not reclaim, got %d", count)
	}
}

func TestPurgeTerminal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.MustNewJob(t, store)
	job.SetDone("https://minio.test/media/merged/y.mp4")
	if err := store.Update(ctx, job); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	active := testsupport.MustNewJob(t, store)

	count, err := store.PurgeTerminal(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("PurgeTerminal failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 purged job, got %d", count)
	}

	if remaining, _ := store.GetByID(ctx, active.ID); remaining == nil {
		t.Fatal("active job must survive purge")
	}
	if purged, _ := store.GetByID(ctx, job.ID); purged != nil {
		t.Fatal("terminal job should be purged")
	}
}

func TestRetryFailed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	job := testsupport.MustNewJob(t, store)
	job.SetFailed(queue.ErrorKindFetchPermanent, "404 from origin")
	if err := store.Update(ctx, job); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	count, err := store.RetryFailed(ctx, job.ID)
	if err != nil {
		t.Fatalf("RetryFailed failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 retried job, got %d", count)
	}

	retried, _ := store.GetByID(ctx, job.ID)
	if retried.Status != queue.StatusQueued || retried.ErrorKind != "" || retried.ErrorMessage != "" {
		t.Fatalf("unexpected state after retry: %#v", retried)
	}
}

func TestStatsAndHealth(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.MustNewJob(t, store)
	failed := testsupport.MustNewJob(t, store)
	failed.SetFailed(queue.ErrorKindPublish, "upload retries exhausted")
	if err := store.Update(ctx, failed); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Total != 2 || health.Queued != 1 || health.Failed != 1 {
		t.Fatalf("unexpected health summary: %#v", health)
	}
}

func TestParseStatus(t *testing.T) {
	if status, ok := queue.ParseStatus(" Encoding "); !ok || status != queue.StatusEncoding {
		t.Fatalf("ParseStatus failed: %v %v", status, ok)
	}
	if _, ok := queue.ParseStatus("ripping"); ok {
		t.Fatal("unknown status must not parse")
	}
}

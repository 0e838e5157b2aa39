package main

import (
	"context"
	"io"
	"log/slog"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/HanTheDev/eval-ingest-gateway/internal/store"
	"github.com/HanTheDev/eval-ingest-gateway/internal/usage"
)

func TestSeed(t *testing.T) {
	st := store.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	res, err := seed(context.Background(), st, usage.NewStoreCounter(st), "t1", 40, 7, rand.New(rand.NewPCG(1, 2)), logger)
	if err != nil {
		t.Fatalf("seed() error = %v", err)
	}
	if res.Admitted != 40 || res.Skipped != 0 || res.Rejected != 0 {
		t.Errorf("summary = %+v, want 40 admitted", res)
	}

	evals, total, _ := st.ListEvaluations(context.Background(), "t1", 0, 0)
	if total != 40 {
		t.Fatalf("stored = %d, want 40", total)
	}

	oldest := usage.DayStart(time.Now()).AddDate(0, 0, -7)
	for _, e := range evals {
		if e.Score < 60 || e.Score > 100 {
			t.Errorf("score %v out of range", e.Score)
		}
		if e.LatencyMs < 500 || e.LatencyMs >= 2000 {
			t.Errorf("latency %d out of range", e.LatencyMs)
		}
		if e.CreatedAt.Before(oldest) {
			t.Errorf("created_at %v older than window", e.CreatedAt)
		}
	}

	p, err := st.GetPolicy(context.Background(), "t1")
	if err != nil || p.MaxEvalPerDay != 50000 {
		t.Errorf("seed policy = %+v, %v", p, err)
	}
}

func TestSeed_CapAppliesPerDay(t *testing.T) {
	saved := seedPolicy
	seedPolicy.MaxEvalPerDay = 8
	t.Cleanup(func() { seedPolicy = saved })

	st := store.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// 20 records over 20 days stays well under 8 on any single day.
	res, err := seed(context.Background(), st, usage.NewStoreCounter(st), "t1", 20, 20, rand.New(rand.NewPCG(3, 4)), logger)
	if err != nil {
		t.Fatalf("seed() error = %v", err)
	}
	if res.Admitted != 20 || res.Rejected != 0 {
		t.Errorf("summary = %+v, want all 20 admitted", res)
	}
}

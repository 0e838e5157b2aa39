// Command seed pushes synthetic evaluations for one tenant through the
// ingest pipeline, spread over the last N days.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand/v2"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/HanTheDev/eval-ingest-gateway/internal/admission"
	"github.com/HanTheDev/eval-ingest-gateway/internal/config"
	"github.com/HanTheDev/eval-ingest-gateway/internal/db"
	"github.com/HanTheDev/eval-ingest-gateway/internal/ingest"
	"github.com/HanTheDev/eval-ingest-gateway/internal/models"
	"github.com/HanTheDev/eval-ingest-gateway/internal/redact"
	"github.com/HanTheDev/eval-ingest-gateway/internal/store"
	"github.com/HanTheDev/eval-ingest-gateway/internal/usage"
)

var prompts = []string{
	"What is AI?",
	"Explain machine learning",
	"What is deep learning?",
	"How does NLP work?",
	"What is supervised learning?",
	"Explain reinforcement learning",
	"What is computer vision?",
	"Define neural networks",
	"What is a CNN?",
	"Explain transformers",
	"What are GANs?",
	"Explain gradient descent",
	"What is backpropagation?",
	"Define overfitting",
	"What is a perceptron?",
}

var responses = []string{
	"AI simulates human intelligence in machines.",
	"ML enables systems to learn from data.",
	"Deep learning uses neural networks with many layers.",
	"NLP helps computers understand human language.",
	"Supervised learning trains on labeled data.",
	"RL trains agents through rewards.",
	"Computer vision interprets visual information.",
	"Neural networks are inspired by the brain.",
	"CNNs are designed for image processing.",
	"Transformers use attention mechanisms.",
	"GANs generate new data from learned patterns.",
	"Gradient descent optimizes model parameters.",
	"Backpropagation calculates gradients for learning.",
	"Overfitting occurs when model memorizes training data.",
	"A perceptron is a basic neural network unit.",
}

var flagPool = []string{"helpful", "accurate", "detailed", "clear", "excellent", "technical", "basic", "advanced"}

// seedPolicy keeps every synthetic record admitted.
var seedPolicy = models.TenantPolicy{
	RunPolicy:     models.RunAlways,
	SampleRatePct: 100,
	ObfuscatePII:  false,
	MaxEvalPerDay: 50000,
}

type summary struct {
	Admitted int
	Skipped  int
	Rejected int
}

func main() {
	tenantID := flag.String("tenant", "", "tenant id to seed (required)")
	total := flag.Int("count", 500, "number of evaluations to ingest")
	days := flag.Int("days", 30, "spread records over this many past days")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	if *tenantID == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	ctx := context.Background()
	st, err := db.Open(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to open store:", err)
	}
	defer st.Close()

	// Backdated records are counted against the day they are dated.
	counter := usage.NewStoreCounter(st)

	color.Cyan("Seeding %d evaluations for tenant %s over %d days", *total, *tenantID, *days)

	res, err := seed(ctx, st, counter, *tenantID, *total, *days, rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)), logger)
	if err != nil {
		color.Red("ERROR: %v", err)
		st.Close()
		os.Exit(1)
	}

	color.Green("COMPLETE: inserted %d evaluations for tenant %s", res.Admitted, *tenantID)
	if res.Skipped+res.Rejected > 0 {
		color.Yellow("skipped %d, rejected %d", res.Skipped, res.Rejected)
	}
}

func seed(ctx context.Context, st store.Store, counter usage.Counter, tenantID string, total, days int, rng *rand.Rand, logger *slog.Logger) (summary, error) {
	var res summary
	if days <= 0 {
		days = 1
	}

	policy := seedPolicy
	policy.TenantID = tenantID
	if err := st.UpsertPolicy(ctx, &policy); err != nil {
		return res, fmt.Errorf("store seed policy: %w", err)
	}

	var at time.Time
	service := ingest.NewService(st, counter, st, admission.NewController(rng), redact.New(),
		ingest.WithClock(func() time.Time { return at }),
		ingest.WithLogger(logger),
	)

	now := time.Now().UTC()
	for i := 0; i < total; i++ {
		idx := i % len(prompts)
		at = now.Add(-time.Duration(rng.IntN(days)) * 24 * time.Hour)

		rec := models.EvaluationRecord{
			InteractionID: fmt.Sprintf("eval_%06d", i+1),
			Prompt:        prompts[idx],
			Response:      responses[idx],
			Score:         float64(int((rng.Float64()*40+60)*10)) / 10,
			LatencyMs:     rng.IntN(1500) + 500,
			Flags:         []string{flagPool[rng.IntN(len(flagPool))]},
		}

		r, err := service.Ingest(ctx, tenantID, rec)
		if err != nil {
			return res, fmt.Errorf("ingest %s: %w", rec.InteractionID, err)
		}
		switch r.Outcome {
		case admission.Admit:
			res.Admitted++
		case admission.Skip:
			res.Skipped++
		case admission.Reject:
			res.Rejected++
		}
	}
	return res, nil
}

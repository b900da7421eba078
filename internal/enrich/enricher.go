package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/ledger-recon/internal/domain"
	"github.com/dvloznov/ledger-recon/internal/logger"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Outcome says how a record's AI explanation was produced.
type Outcome string

const (
	OutcomeGenerated    Outcome = "generated"
	OutcomeDisabled     Outcome = "disabled"
	OutcomeLimitReached Outcome = "limit_reached"
	OutcomeConsistent   Outcome = "consistent"
	OutcomeUnavailable  Outcome = "unavailable"
)

// Fixed explanation texts used whenever the explainer is not (successfully) called.
const (
	PlaceholderDisabled     = "AI analysis skipped (USE_AI=False)."
	PlaceholderLimitReached = "Skipped AI analysis (limit reached)."
	PlaceholderConsistent   = "Transaction is consistent across systems."
	PlaceholderUnavailable  = "AI explanation unavailable due to quota or timeout."
)

// DefaultLimit is the number of leading records eligible for an AI explanation.
const DefaultLimit = 5

// ErrNoExplainer is returned for AI-eligible records when enrichment is
// enabled but no explainer was supplied.
var ErrNoExplainer = errors.New("no AI explainer configured")

// Explainer produces a free-text explanation for one discrepancy.
// Implementations talk to an external text-generation service.
type Explainer interface {
	Explain(ctx context.Context, d domain.Discrepancy) (string, error)
}

// Explanation is the typed outcome of the AI step for one record.
// Err is set only for OutcomeUnavailable.
type Explanation struct {
	Text    string
	Outcome Outcome
	Err     error
}

// Result pairs an enriched record with how its AI note was obtained.
type Result struct {
	Record      domain.Discrepancy
	Explanation Explanation
}

// Options configures one run's enrichment.
type Options struct {
	Enabled bool
	// Limit caps AI calls to records at positions [0, Limit). Zero means DefaultLimit.
	Limit int
	// Timeout bounds every explainer call. Zero means 20s.
	Timeout time.Duration
	// RatePerSecond spaces explainer calls. Zero or less disables spacing.
	RatePerSecond float64
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit for the rest of the run. Zero means 3.
	FailureThreshold uint32
}

// Enricher attaches reasons, actions and AI notes to classified records.
// Create one per run: the limiter and circuit breaker are run-scoped.
type Enricher struct {
	explainer Explainer
	opts      Options
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker
}

// New creates an Enricher. explainer may be nil when AI is disabled.
func New(opts Options, explainer Explainer) *Enricher {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 3
	}

	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}

	threshold := opts.FailureThreshold
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ai-explainer",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	})

	return &Enricher{
		explainer: explainer,
		opts:      opts,
		limiter:   rate.NewLimiter(limit, 1),
		breaker:   breaker,
	}
}

// Enrich returns a new, enriched copy of records in the same order.
// It never fails: explainer problems degrade to a placeholder per record.
func (e *Enricher) Enrich(ctx context.Context, records []domain.Discrepancy) []Result {
	log := logger.FromContext(ctx)
	total := len(records)

	if e.opts.Enabled {
		log.Info().Int("limit", e.opts.Limit).Msg("AI analysis enabled")
	} else {
		log.Info().Msg("AI analysis disabled, skipping explainer calls")
	}

	results := make([]Result, 0, total)
	for i, rec := range records {
		log.Debug().
			Str("tx_id", rec.TxID).
			Str("discrepancy_type", string(rec.Type)).
			Msgf("[%d/%d] Processing transaction", i+1, total)

		out := rec
		out.ProbableReason = ProbableReason(rec)
		out.SuggestedAction = SuggestedAction(rec.Type)

		expl := e.explain(ctx, i, out)
		out.AIExplanation = expl.Text

		if expl.Err != nil {
			log.Warn().Err(expl.Err).Str("tx_id", rec.TxID).Msg("AI explanation failed")
		}

		results = append(results, Result{Record: out, Explanation: expl})
	}

	log.Info().Int("records", total).Msg("Enrichment complete")
	return results
}

// explain decides the AI note for the record at position pos.
// The cap is positional, so matched records inside it still use a slot.
func (e *Enricher) explain(ctx context.Context, pos int, d domain.Discrepancy) Explanation {
	if !e.opts.Enabled {
		return Explanation{Text: PlaceholderDisabled, Outcome: OutcomeDisabled}
	}
	if pos >= e.opts.Limit {
		return Explanation{Text: PlaceholderLimitReached, Outcome: OutcomeLimitReached}
	}
	if d.Type == domain.Matched {
		return Explanation{Text: PlaceholderConsistent, Outcome: OutcomeConsistent}
	}
	if e.explainer == nil {
		return unavailable(ErrNoExplainer)
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return unavailable(fmt.Errorf("explain: rate limiter: %w", err))
	}

	out, err := e.breaker.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()

		text, err := e.explainer.Explain(callCtx, d)
		if err != nil {
			return nil, err
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, errors.New("empty response from explainer")
		}
		return text, nil
	})
	if err != nil {
		return unavailable(fmt.Errorf("explain %s: %w", d.TxID, err))
	}

	return Explanation{Text: out.(string), Outcome: OutcomeGenerated}
}

func unavailable(err error) Explanation {
	return Explanation{Text: PlaceholderUnavailable, Outcome: OutcomeUnavailable, Err: err}
}

// Records strips the explanations off a result set.
func Records(results []Result) []domain.Discrepancy {
	out := make([]domain.Discrepancy, 0, len(results))
	for _, r := range results {
		out = append(out, r.Record)
	}
	return out
}

// CountOutcomes tallies explanation outcomes across a result set.
func CountOutcomes(results []Result) map[Outcome]int {
	counts := make(map[Outcome]int)
	for _, r := range results {
		counts[r.Explanation.Outcome]++
	}
	return counts
}

// Package budget computes per-stage latency allowances. The monitor is
// a pure calculator over supplied clock readings and holds no mutable
// state, so one instance serves every concurrent utterance pipeline.
package budget

import (
	"time"

	"voice-relay/pkg/config"
	"voice-relay/pkg/models"
)

type Budgets struct {
	Transcribe time.Duration
	Translate  time.Duration
	Synthesize time.Duration
	Total      time.Duration
}

func FromConfig(c config.BudgetConfig) Budgets {
	return Budgets{
		Transcribe: c.Transcribe,
		Translate:  c.Translate,
		Synthesize: c.Synthesize,
		Total:      c.Total,
	}
}

// Default returns the fixed production envelope: 2s transcription,
// 1s translation, 2s synthesis, 5s end to end.
func Default() Budgets {
	return Budgets{
		Transcribe: 2 * time.Second,
		Translate:  1 * time.Second,
		Synthesize: 2 * time.Second,
		Total:      5 * time.Second,
	}
}

func (b Budgets) StageBudget(stage models.Stage) time.Duration {
	switch stage {
	case models.StageTranscribe:
		return b.Transcribe
	case models.StageTranslate:
		return b.Translate
	case models.StageSynthesize:
		return b.Synthesize
	default:
		return 0
	}
}

// Exceeded reports whether the end-to-end budget has already elapsed
// for an utterance that started processing at start. A stage must not
// begin once this is true.
func (b Budgets) Exceeded(start, now time.Time) bool {
	return now.Sub(start) >= b.Total
}

// Remaining returns the allowance for one provider attempt of the
// given stage: the stage budget capped by what is left of the
// end-to-end budget. Zero or negative means the attempt must not run.
func (b Budgets) Remaining(stage models.Stage, start, now time.Time) time.Duration {
	left := b.Total - now.Sub(start)
	if stageBudget := b.StageBudget(stage); stageBudget < left {
		return stageBudget
	}
	return left
}

package serving

import (
	"context"
	"fmt"
	"math"
)

// LanguageModel returns the logits of the token following ids.
type LanguageModel interface {
	NextTokenLogits(ctx context.Context, ids []int32) ([]float32, error)

	Close() error
}

type GenerateOptions struct {
	// MaxLength bounds the total sequence length, prompt included.
	MaxLength         int
	NoRepeatNgramSize int
	EOSID             int32
}

// Generate extends prompt by greedy decoding. It stops once the sequence
// reaches MaxLength or the end of sequence token is produced.
func Generate(ctx context.Context, model LanguageModel, prompt []int32, opts GenerateOptions) ([]int32, error) {
	seq := append(make([]int32, 0, max(len(prompt), opts.MaxLength)), prompt...)

	for len(seq) < opts.MaxLength {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		logits, err := model.NextTokenLogits(ctx, seq)
		if err != nil {
			return nil, fmt.Errorf("error computing logits: %w", err)
		}

		for _, banned := range bannedNgramTokens(seq, opts.NoRepeatNgramSize) {
			if int(banned) < len(logits) {
				logits[banned] = float32(math.Inf(-1))
			}
		}

		next := argmax(logits)
		if next < 0 {
			break
		}

		seq = append(seq, int32(next))
		if opts.EOSID >= 0 && int32(next) == opts.EOSID {
			break
		}
	}

	return seq, nil
}

// bannedNgramTokens lists the tokens that would complete an n-gram already
// present in seq.
func bannedNgramTokens(seq []int32, n int) []int32 {
	if n <= 0 || len(seq)+1 < n {
		return nil
	}

	prefix := seq[len(seq)-n+1:]

	var banned []int32
	for i := 0; i+n <= len(seq); i++ {
		match := true
		for j := range prefix {
			if seq[i+j] != prefix[j] {
				match = false
				break
			}
		}
		if match {
			banned = append(banned, seq[i+n-1])
		}
	}
	return banned
}

func argmax(values []float32) int {
	best := -1
	bestValue := float32(math.Inf(-1))
	for i, v := range values {
		if v > bestValue {
			best = i
			bestValue = v
		}
	}
	return best
}

package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/unclebandit/wa-dispatch/internal/ai"
)

var ErrProtectedValueLost = errors.New("rewrite changed a contact value")

type maskedValue struct {
	token string
	value string
	count int
}

// maskValues swaps each protected value in text for a numbered token.
// Longer values are masked first so a value contained in another is not split.
func maskValues(text string, values []string) (string, []maskedValue) {
	sorted := append([]string(nil), values...)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })

	var masks []maskedValue
	for _, v := range sorted {
		if strings.TrimSpace(v) == "" {
			continue
		}
		n := strings.Count(text, v)
		if n == 0 {
			continue
		}
		token := fmt.Sprintf("[[%d]]", len(masks)+1)
		text = strings.ReplaceAll(text, v, token)
		masks = append(masks, maskedValue{token: token, value: v, count: n})
	}
	return text, masks
}

// unmaskValues restores tokens, failing if the rewrite dropped, duplicated or invented any.
func unmaskValues(text string, masks []maskedValue) (string, error) {
	for _, m := range masks {
		if got := strings.Count(text, m.token); got != m.count {
			return "", fmt.Errorf("%w: token %s appears %d times, want %d", ErrProtectedValueLost, m.token, got, m.count)
		}
	}
	for _, m := range masks {
		text = strings.ReplaceAll(text, m.token, m.value)
	}
	if strings.Contains(text, "[[") && strings.Contains(text, "]]") {
		return "", fmt.Errorf("%w: unknown token left in output", ErrProtectedValueLost)
	}
	return text, nil
}

// rewriteProtected paraphrases text while keeping every protected value byte for byte.
func rewriteProtected(ctx context.Context, p ai.Paraphraser, text string, protected []string) (*ai.Rewrite, error) {
	masked, masks := maskValues(text, protected)

	out, err := p.Rewrite(ctx, masked)
	if err != nil {
		return nil, err
	}
	restored, err := unmaskValues(out.Text, masks)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(restored) == "" {
		return nil, ai.ErrEmptyOutput
	}
	return &ai.Rewrite{Text: restored, Model: out.Model}, nil
}

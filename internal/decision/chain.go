// Copyright (c) 2025-2026, the fetcharr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package decision

import (
	"context"

	"github.com/fetcharr/fetcharr/internal/models"
)

// Mode selects how the specification chain treats failing rules.
type Mode int

const (
	// AutomaticGrab stops at the first failing rule: unattended grabbing only
	// needs to know the candidate is out, not why in full.
	AutomaticGrab Mode = iota
	// Inspect evaluates every rule and accumulates every failure, because a
	// human choosing from the list needs the complete explanation.
	Inspect
)

// Chain is the ordered set of acceptance rules. Order is fixed cheap-first:
// stateless protocol/profile checks, then the upgrade comparison, then the
// rules that read the blocklist and history stores.
type Chain struct {
	rules []Rule
}

// NewChain builds the chain with the standard rule order.
func NewChain() *Chain {
	return &Chain{
		rules: []Rule{
			protocolRule{},
			indexerRule{},
			qualityRule{},
			languageRule{},
			sizeRule{},
			formatScoreRule{},
			upgradeRule{},
			blocklistRule{},
			failureRule{},
		},
	}
}

// Evaluate runs the candidate through every rule. The decision is
// deterministic for identical (candidate, context, store state) inputs.
// Cancellation stops evaluation between rules; a cancelled evaluation is
// reported as an evaluationError rejection rather than a silent accept.
func (c *Chain) Evaluate(ctx context.Context, candidate *models.AnnotatedRelease, sctx *SearchContext, mode Mode) models.Decision {
	var rejections []models.Rejection

	for _, rule := range c.rules {
		if err := ctx.Err(); err != nil {
			rejections = append(rejections, *evaluationError("evaluation cancelled"))
			return models.Reject(rejections...)
		}

		rejection := rule.Evaluate(ctx, candidate, sctx)
		if rejection == nil {
			continue
		}

		if mode == AutomaticGrab {
			return models.Reject(*rejection)
		}
		rejections = append(rejections, *rejection)
	}

	if len(rejections) > 0 {
		return models.Reject(rejections...)
	}
	return models.Accept()
}

// StatefulRules returns how many trailing rules perform store I/O. The
// pipeline uses this to bound their concurrency.
func (c *Chain) StatefulRules() int {
	count := 0
	for _, rule := range c.rules {
		if s, ok := rule.(Stateful); ok && s.Stateful() {
			count++
		}
	}
	return count
}

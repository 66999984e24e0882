/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package rules

import (
	"time"

	"github.com/ClearClose/Vouch/global"
	"github.com/google/uuid"
)

// defaultRules returns the built-in rule set seeded on first use
func defaultRules() []global.Rule {
	now := time.Now()

	seed := []struct {
		name     string
		category string
		prompt   string
		severity string
	}{
		{
			name:     "Issue date check",
			category: global.RuleCategoryDate,
			prompt: "Verify that the invoice shows an issue date, that the date is plausible " +
				"(not in the future), and that it falls within the expected accounting period. " +
				"Flag missing, unreadable, or future-dated invoices.",
			severity: global.SeverityError,
		},
		{
			name:     "Amount consistency",
			category: global.RuleCategoryAmount,
			prompt: "Verify that line-item amounts, subtotal, tax, and total are mutually " +
				"consistent. Recalculate the arithmetic and flag any figures that do not add up.",
			severity: global.SeverityError,
		},
		{
			name:     "Required fields present",
			category: global.RuleCategoryFormat,
			prompt: "Verify that the invoice contains the issuer name, an invoice number, " +
				"the issue date, and the total amount including tax. Flag any required field " +
				"that is missing or illegible.",
			severity: global.SeverityWarning,
		},
		{
			name:     "Approval evidence",
			category: global.RuleCategoryApproval,
			prompt: "Check whether the document shows evidence of internal approval, such as " +
				"an approval stamp, signature, or approval reference number. Flag documents " +
				"that carry no approval trace.",
			severity: global.SeverityWarning,
		},
		{
			name:     "Payment terms check",
			category: global.RuleCategoryOther,
			prompt: "Verify that the stated payment terms and due date are consistent with the " +
				"issue date and ordinary commercial practice. Flag unusual, contradictory, or " +
				"missing payment terms.",
			severity: global.SeverityInfo,
		},
	}

	rules := make([]global.Rule, 0, len(seed))
	for _, def := range seed {
		rules = append(rules, global.Rule{
			ID:        uuid.New().String(),
			Name:      def.name,
			Category:  def.category,
			Prompt:    def.prompt,
			Severity:  def.severity,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return rules
}

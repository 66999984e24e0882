/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package tasks

import "github.com/ClearClose/Vouch/global"

// Built-in task ids
const (
	TaskPaymentReconciliation = "payment_reconciliation"
	TaskExpenseListing        = "expense_listing"
)

// builtinTasks returns the predefined accounting tasks. These are fixed
// definitions, not persisted, and always resolvable by id.
func builtinTasks() []global.TaskConfig {
	return []global.TaskConfig{
		{
			ID:          TaskPaymentReconciliation,
			Name:        "Payment reconciliation",
			Description: "Compare invoiced amounts against payment evidence and record whether each payment matches.",
			PromptTemplate: "You are reconciling payments against invoices. For each invoice in the " +
				"documents, find the corresponding payment evidence and compare the amounts, payee, " +
				"and dates. Record one row per invoice with a match_status of \"matched\" when the " +
				"payment agrees with the invoice, \"mismatched\" when it disagrees, and " +
				"\"needs_review\" when the evidence is incomplete.",
			OutputSchema: global.OutputSchema{
				TargetSheet: "Reconciliation",
				StartRow:    2,
				Columns: map[string]global.ColumnDef{
					"A": {Key: global.ReservedRowNumberKey, Header: "No."},
					"B": {Key: "vendor", Header: "Vendor", Description: "Name of the invoicing party"},
					"C": {Key: "invoice_date", Header: "Invoice date", Description: "Issue date as written on the invoice"},
					"D": {Key: "amount", Header: "Invoice amount", Description: "Total invoiced amount including tax, numeric"},
					"E": {Key: "paid_amount", Header: "Paid amount", Description: "Amount shown in the payment evidence, numeric"},
					"F": {Key: "match_status", Header: "Match", Description: "matched, mismatched, or needs_review"},
					"G": {Key: "note", Header: "Note", Description: "Short explanation of any discrepancy"},
				},
			},
		},
		{
			ID:          TaskExpenseListing,
			Name:        "Expense listing",
			Description: "List every expense found in the evidence documents as one row per expense.",
			PromptTemplate: "Extract every individual expense from the documents. Record one row per " +
				"expense with its date, payee, category, and amount. Use the document text only; " +
				"do not invent values.",
			OutputSchema: global.OutputSchema{
				TargetSheet: "Expenses",
				StartRow:    2,
				Columns: map[string]global.ColumnDef{
					"A": {Key: global.ReservedRowNumberKey, Header: "No."},
					"B": {Key: "date", Header: "Date", Description: "Expense date"},
					"C": {Key: "payee", Header: "Payee", Description: "Who was paid"},
					"D": {Key: "category", Header: "Category", Description: "Expense category, e.g. travel, supplies"},
					"E": {Key: "amount", Header: "Amount", Description: "Expense amount including tax, numeric"},
					"F": {Key: "note", Header: "Note", Description: "Anything unusual about this expense"},
				},
			},
		},
	}
}

/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package engine

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/ClearClose/Vouch/global"
	"github.com/ClearClose/Vouch/logging"
)

// Aggregator merges the per-item TaskResults of one batch run into a single
// AggregateResult. It must never fail under well-formed TaskResults.
type Aggregator struct {
	logger *logging.Logger
}

// NewAggregator creates an Aggregator
func NewAggregator(logger *logging.Logger) *Aggregator {
	return &Aggregator{logger: logger}
}

// Aggregate merges results, re-ordering records by the original submission
// order of items regardless of completion order. Successful and degraded
// records both join the record list; Failed and ValidationFailed results
// contribute to the errors list. Raw responses are preserved for every item
// whose call returned text.
func (a *Aggregator) Aggregate(items []WorkItem, results []TaskResult) *AggregateResult {
	agg := &AggregateResult{
		ProcessedCount: len(results),
		RawResponses:   make(map[string]string),
	}

	// Index completion-ordered results by item id
	byID := make(map[string]*TaskResult, len(results))
	for i := range results {
		res := &results[i]
		byID[res.ItemID] = res

		// Token usage accumulates across all items, failed ones included
		agg.TotalTokens += res.Tokens
		if res.Raw != "" {
			agg.RawResponses[res.ItemID] = res.Raw
		}
	}

	// Walk items in submission order so exports are reproducible
	for _, item := range items {
		res, ok := byID[item.ItemID]
		if !ok {
			// Dispatcher guarantees one result per item; tolerate anyway
			agg.Errors = append(agg.Errors, ItemError{ItemID: item.ItemID, Message: "no result produced"})
			continue
		}

		switch res.State {
		case ResultSuccess:
			agg.SuccessCount++
		case ResultValidationFailed:
			agg.Errors = append(agg.Errors, ItemError{ItemID: res.ItemID, Message: res.Error})
		case ResultFailed:
			agg.Errors = append(agg.Errors, ItemError{ItemID: res.ItemID, Message: res.Error})
			continue
		}

		for _, rec := range res.Records {
			if _, ok := rec["item_id"]; !ok {
				rec["item_id"] = res.ItemID
			}
			agg.Records = append(agg.Records, rec)
			agg.TotalAmount += amountValue(rec["amount"])

			switch matchStatus(rec) {
			case global.MatchStatusMatched:
				agg.MatchedCount++
			case global.MatchStatusMismatched:
				agg.MismatchedCount++
			}
		}
	}

	a.logger.Infof("Aggregated %d record(s) from %d item(s): %d succeeded, %d error(s)",
		len(agg.Records), len(items), agg.SuccessCount, len(agg.Errors))

	return agg
}

// amountValue converts a record's amount field to a number. Non-numeric
// values contribute zero rather than aborting aggregation.
func amountValue(v interface{}) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return 0
		}
		return f
	case string:
		// Tolerate formatted amounts like "1,234.56" or "¥1200"
		cleaned := strings.Map(func(r rune) rune {
			switch {
			case r >= '0' && r <= '9', r == '.', r == '-':
				return r
			default:
				return -1
			}
		}, val)
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// matchStatus reads a record's match_status marker, if any
func matchStatus(rec map[string]interface{}) string {
	v, ok := rec["match_status"]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

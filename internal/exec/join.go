package exec

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"filequery/internal/intent"
	"filequery/internal/plan"
	"filequery/internal/qerr"
	"filequery/internal/schema"
)

// join hash-joins two materialized tables on the step's key. The smaller
// input becomes the hash side, ties keep the left side hashed, and the
// other side probes in row order, so output order follows the probe
// input. Unmatched rows survive according to the join kind, padded with
// nulls.
//
// Rows whose key cell failed to decode as the key's type are recorded
// as skipped rather than failing the query; a partial file should not
// make the joinable part unanswerable.
func (e *Executor) join(left, right *table, step *plan.Step, tr *Trace) (*table, error) {
	// Source-qualified lookup: after earlier joins the left input can
	// carry same-named columns from several sources, and only the
	// planned owner's column has the checked key type.
	li, ok := left.find(step.LeftSource, step.LeftKey)
	if !ok {
		return nil, qerr.New(qerr.UnresolvedReference, "join key %s.%s not in left input", step.LeftSource, step.LeftKey)
	}
	ri, ok := right.find(step.RightSource, step.RightKey)
	if !ok {
		return nil, qerr.New(qerr.UnresolvedReference, "join key %s.%s not in right input", step.RightSource, step.RightKey)
	}

	tr.JoinKeys = append(tr.JoinKeys, fmt.Sprintf("%s = %s (%s)",
		qualified(left.cols[li]), qualified(right.cols[ri]), step.Kind))

	out := &table{cols: make([]Column, 0, len(left.cols)+len(right.cols))}
	out.cols = append(out.cols, left.cols...)
	out.cols = append(out.cols, right.cols...)

	buildLeft := len(left.rows) <= len(right.rows)
	build, probe := right, left
	bIdx, pIdx := ri, li
	bType, pType := step.RightType, step.LeftType
	if buildLeft {
		build, probe = left, right
		bIdx, pIdx = li, ri
		bType, pType = step.LeftType, step.RightType
	}

	// Which side's unmatched rows survive depends on the join kind and
	// on which physical side ended up as the hash.
	probeKeeps := step.Kind == intent.JoinOuter ||
		(step.Kind == intent.JoinLeft && !buildLeft) ||
		(step.Kind == intent.JoinRight && buildLeft)
	buildKeeps := step.Kind == intent.JoinOuter ||
		(step.Kind == intent.JoinLeft && buildLeft) ||
		(step.Kind == intent.JoinRight && !buildLeft)

	pair := func(prow, brow []any) {
		lrow, rrow := prow, brow
		if buildLeft {
			lrow, rrow = brow, prow
		}
		out.rows = append(out.rows, padRow(lrow, rrow, len(left.cols), len(right.cols)))
	}

	var mismatched int64

	// Null keys never enter the hash, so they match nothing.
	hash := make(map[string][]int, len(build.rows))
	buildSkipped := make([]bool, len(build.rows))
	for i, row := range build.rows {
		key, state := canonKey(row[bIdx], bType, step.Coerce)
		switch state {
		case keyNull:
		case keyMismatch:
			mismatched++
			buildSkipped[i] = true
		default:
			hash[key] = append(hash[key], i)
		}
	}

	buildMatched := make([]bool, len(build.rows))
	for _, prow := range probe.rows {
		key, state := canonKey(prow[pIdx], pType, step.Coerce)
		if state == keyMismatch {
			mismatched++
			continue
		}
		var matches []int
		if state == keyOK {
			matches = hash[key]
		}

		if len(matches) == 0 {
			if probeKeeps {
				pair(prow, nil)
			}
			continue
		}
		for _, bj := range matches {
			buildMatched[bj] = true
			pair(prow, build.rows[bj])
		}
	}

	if buildKeeps {
		for i, brow := range build.rows {
			if buildMatched[i] || buildSkipped[i] {
				continue
			}
			pair(nil, brow)
		}
	}

	if mismatched > 0 {
		w := qerr.New(qerr.JoinKeyMismatch, "%d rows skipped: join key values did not match the planned key type", mismatched)
		tr.SkippedRows += mismatched
		tr.Warnings = append(tr.Warnings, string(w.Kind))
		tr.Notes = append(tr.Notes, w.Error())
		e.metrics.IncCounter("join_rows_skipped_total", float64(mismatched), nil)
	}
	return out, nil
}

// padRow concatenates one side with nulls for the other.
func padRow(lrow, rrow []any, ln, rn int) []any {
	row := make([]any, ln+rn)
	copy(row, lrow)
	if rrow != nil {
		copy(row[ln:], rrow)
	}
	return row
}

type keyState int

const (
	keyOK keyState = iota
	keyNull
	keyMismatch
)

// canonKey renders a join key cell to its canonical comparison text.
// Numeric keys in a coerced (integer with float) pairing widen to float
// so 7 and 7.0 meet. Text compares case-insensitively. A non-null value
// whose runtime type does not belong to the key's declared type is a
// mismatch: it can never equal a well-typed key on the other side.
func canonKey(v any, t schema.Type, coerce bool) (string, keyState) {
	if v == nil {
		return "", keyNull
	}
	switch t {
	case schema.Integer, schema.Float:
		switch n := v.(type) {
		case int64:
			if coerce || t == schema.Float {
				return strconv.FormatFloat(float64(n), 'g', -1, 64), keyOK
			}
			return strconv.FormatInt(n, 10), keyOK
		case float64:
			return strconv.FormatFloat(n, 'g', -1, 64), keyOK
		}
		return "", keyMismatch
	case schema.Boolean:
		if b, ok := v.(bool); ok {
			if b {
				return "t", keyOK
			}
			return "f", keyOK
		}
		return "", keyMismatch
	case schema.Date:
		if ts, ok := v.(time.Time); ok {
			return ts.UTC().Format(time.RFC3339Nano), keyOK
		}
		return "", keyMismatch
	default:
		return strings.ToLower(strings.TrimSpace(schema.FormatValue(v))), keyOK
	}
}

func qualified(c Column) string {
	if c.Source == "" {
		return c.Name
	}
	return c.Source + "." + c.Name
}

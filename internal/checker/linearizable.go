package checker

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/anishathalye/porcupine"

	"kvharness/internal/history"
)

// regUnset is the model state for a register that was never written.
// Workload values are drawn from [0, valueRange), so -1 never collides.
const regUnset = -1

type regOp uint8

const (
	opRead regOp = iota
	opWrite
	opCAS
)

type regInput struct {
	op   regOp
	arg1 int // write payload, or cas expected
	arg2 int // cas replacement
}

type regOutput struct {
	value   int  // observed read value
	unset   bool // read observed an unwritten register
	swapped bool // cas compare succeeded
	unknown bool // ambiguous outcome: effect may or may not have happened
}

// registerModel is the single-key CAS-register model. Ambiguous mutating
// operations branch the state: they either took effect somewhere in their
// span or not at all.
func registerModel() porcupine.Model {
	nd := porcupine.NondeterministicModel{
		Init: func() []interface{} {
			return []interface{}{regUnset}
		},
		Step: func(state, input, output interface{}) []interface{} {
			st := state.(int)
			in := input.(regInput)
			out := output.(regOutput)
			switch in.op {
			case opRead:
				observed := out.value
				if out.unset {
					observed = regUnset
				}
				if st == observed {
					return []interface{}{st}
				}
				return nil
			case opWrite:
				if out.unknown {
					return []interface{}{st, in.arg1}
				}
				return []interface{}{in.arg1}
			case opCAS:
				if out.unknown {
					next := []interface{}{st}
					if st == in.arg1 {
						next = append(next, in.arg2)
					}
					return next
				}
				if out.swapped {
					if st == in.arg1 {
						return []interface{}{in.arg2}
					}
					return nil
				}
				// A definite cas fail is an observation that the register
				// did not hold the expected value.
				if st != in.arg1 {
					return []interface{}{st}
				}
				return nil
			}
			return nil
		},
		Equal: func(a, b interface{}) bool {
			return a.(int) == b.(int)
		},
		DescribeOperation: describeOperation,
		DescribeState: func(state interface{}) string {
			if v := state.(int); v != regUnset {
				return fmt.Sprintf("%d", v)
			}
			return "nil"
		},
	}
	return nd.ToModel()
}

func describeOperation(input, output interface{}) string {
	in := input.(regInput)
	out := output.(regOutput)
	switch in.op {
	case opRead:
		switch {
		case out.unknown:
			return "read() -> ?"
		case out.unset:
			return "read() -> nil"
		default:
			return fmt.Sprintf("read() -> %d", out.value)
		}
	case opWrite:
		if out.unknown {
			return fmt.Sprintf("write(%d) -> ?", in.arg1)
		}
		return fmt.Sprintf("write(%d)", in.arg1)
	case opCAS:
		switch {
		case out.unknown:
			return fmt.Sprintf("cas(%d, %d) -> ?", in.arg1, in.arg2)
		case out.swapped:
			return fmt.Sprintf("cas(%d, %d) -> ok", in.arg1, in.arg2)
		default:
			return fmt.Sprintf("cas(%d, %d) -> fail", in.arg1, in.arg2)
		}
	}
	return fmt.Sprintf("%v -> %v", input, output)
}

// modelOps converts one key partition into porcupine operations. Operations
// with proven non-effect contribute nothing and are dropped: failed reads,
// and failed mutating ops that carry a backend error. A bare cas fail is a
// definite compare mismatch and stays in as an observation. Ambiguous ops
// stay in with an open-ended return time so they may take effect at any
// point after their invocation.
func modelOps(part history.History) []porcupine.Operation {
	var end int64
	for _, op := range part {
		if op.Complete > end {
			end = op.Complete
		}
	}

	ops := make([]porcupine.Operation, 0, len(part))
	for _, op := range part {
		var in regInput
		var out regOutput
		ret := op.Complete
		if ret <= op.Invoke {
			ret = op.Invoke + 1
		}

		switch op.Func {
		case history.FuncRead:
			if op.Outcome != history.OutcomeOk {
				continue
			}
			in = regInput{op: opRead}
			if op.Value == nil {
				out.unset = true
			} else {
				out.value = *op.Value
			}

		case history.FuncWrite:
			if op.Value == nil || op.Outcome == history.OutcomeFail {
				continue
			}
			in = regInput{op: opWrite, arg1: *op.Value}
			if op.Outcome == history.OutcomeInfo {
				out.unknown = true
				ret = end + 1
			}

		case history.FuncCAS:
			if op.Expected == nil || op.New == nil {
				continue
			}
			in = regInput{op: opCAS, arg1: *op.Expected, arg2: *op.New}
			switch op.Outcome {
			case history.OutcomeOk:
				out.swapped = true
			case history.OutcomeFail:
				if op.Err != "" {
					// Proven non-effect with no observation.
					continue
				}
			case history.OutcomeInfo:
				out.unknown = true
				ret = end + 1
			}

		default:
			continue
		}

		ops = append(ops, porcupine.Operation{
			ClientId: op.Process,
			Input:    in,
			Call:     op.Invoke,
			Output:   out,
			Return:   ret,
		})
	}
	return ops
}

// CheckLinearizable model-checks every key partition independently and
// conjoins the verdicts. The first violating partition's linearization
// info is rendered to an HTML witness in the run directory. A model-stage
// panic or timeout degrades to Unknown, never to Valid.
func CheckLinearizable(h history.History, dir string, timeout time.Duration) (res Result) {
	res = Result{Checker: "linearizable", Valid: Valid}
	defer func() {
		if r := recover(); r != nil {
			res = Result{
				Checker: "linearizable",
				Valid:   Unknown,
				Message: fmt.Sprintf("model stage panicked: %v", r),
			}
		}
	}()

	model := registerModel()
	sawUnknown := false
	for _, key := range h.Keys() {
		ops := modelOps(h.Partition(key))
		if len(ops) == 0 {
			continue
		}
		verdict, info := porcupine.CheckOperationsVerbose(model, ops, timeout)
		switch verdict {
		case porcupine.Ok:
		case porcupine.Unknown:
			sawUnknown = true
		case porcupine.Illegal:
			res.Valid = Invalid
			res.Message = fmt.Sprintf("key %d: history is not linearizable (%d ops)", key, len(ops))
			if path, err := writeWitness(dir, key, model, info); err == nil {
				res.Message += ", witness: " + path
			}
			return res
		}
	}
	if sawUnknown {
		res.Valid = Unknown
		res.Message = fmt.Sprintf("model check exceeded %s budget", timeout)
	}
	return res
}

// writeWitness renders the failing partition's linearization info so the
// violation can be inspected in a browser.
func writeWitness(dir string, key int, model porcupine.Model, info porcupine.LinearizationInfo) (string, error) {
	path := filepath.Join(dir, fmt.Sprintf("witness-key-%d.html", key))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := porcupine.Visualize(model, info, f); err != nil {
		return "", err
	}
	return path, nil
}

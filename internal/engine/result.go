package engine

// Outcome is the job-level status. Partial and total failure are
// distinct: a directory copy never collapses into a single boolean.
type Outcome int

const (
	Success Outcome = iota
	PartialFailure
	TotalFailure
)

var outcomeNames = [...]string{"success", "partial failure", "total failure"}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return "unknown"
}

// TransferResult accumulates per-file outcomes across a job. Individual
// file failures do not abort a directory operation.
type TransferResult struct {
	BytesTransferred int64
	Succeeded        []string
	Skipped          []string
	Failed           map[string]error
}

func newTransferResult() TransferResult {
	return TransferResult{Failed: make(map[string]error)}
}

// Outcome classifies the result: zero failures, some failures, or
// nothing succeeded at all.
func (r TransferResult) Outcome() Outcome {
	switch {
	case len(r.Failed) == 0:
		return Success
	case len(r.Succeeded) == 0 && len(r.Skipped) == 0:
		return TotalFailure
	default:
		return PartialFailure
	}
}

// Package pipeline implements the single-flight node pipeline that turns a
// natural-language question into an executed, formatted answer.
package pipeline

import "github.com/queryhive/queryhive/pkg/models"

// outcomeKind is how a node run ended.
type outcomeKind int

const (
	outcomeContinue outcomeKind = iota
	outcomeSkip
	outcomeFail
)

// Outcome is the result of one node run. Soft nodes skip on failure so the
// run degrades; fatal nodes fail the whole run with a classified error.
type Outcome struct {
	kind      outcomeKind
	errorKind models.ErrorKind
	err       error
}

// Continue advances to the next node.
func Continue() Outcome { return Outcome{kind: outcomeContinue} }

// Skip advances to the next node without this node's contribution.
func Skip() Outcome { return Outcome{kind: outcomeSkip} }

// Fail terminates the run with a classified error.
func Fail(kind models.ErrorKind, err error) Outcome {
	return Outcome{kind: outcomeFail, errorKind: kind, err: err}
}

// Failed reports whether the outcome terminates the run.
func (o Outcome) Failed() bool { return o.kind == outcomeFail }

// Error returns the classification and cause of a failed outcome.
func (o Outcome) Error() (models.ErrorKind, error) { return o.errorKind, o.err }

// Package response assembles the terminal answer object. Everything here is
// pure: deterministic given its inputs, no I/O, no clocks.
package response

import (
	"fmt"
	"time"

	"github.com/tivvis/nlagent/internal/invoke"
)

// partialCap bounds the confidence score when a dispatch only partially
// succeeded (for example, some pagination pages fetched before a failure).
const partialCap = 0.75

// Thought is one step of the explanation trace.
type Thought struct {
	Step    int    `json:"step"`
	Thought string `json:"thought"`
	Action  string `json:"action"`
}

// Trace is the ordered reasoning/action log built during dispatch.
// Append-only while dispatching; callers receive a copy, so a returned
// trace never mutates.
type Trace struct {
	steps []Thought
}

// NewTrace creates an empty trace.
func NewTrace() *Trace { return &Trace{} }

// Add appends one step. Step numbers are assigned in order, starting at 1.
func (t *Trace) Add(thought, action string) {
	t.steps = append(t.steps, Thought{Step: len(t.steps) + 1, Thought: thought, Action: action})
}

// Addf appends one step with a formatted thought.
func (t *Trace) Addf(action, format string, args ...interface{}) {
	t.Add(fmt.Sprintf(format, args...), action)
}

// Steps returns a copy of the recorded steps.
func (t *Trace) Steps() []Thought {
	out := make([]Thought, len(t.steps))
	copy(out, t.steps)
	return out
}

// Entity identifies a record a dispatched operation touched.
type Entity struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// Response is the terminal artifact returned to the caller. Stateless and
// never persisted; exactly one is produced per dispatched operation.
type Response struct {
	Success          bool        `json:"success"`
	Message          string      `json:"message"`
	Data             interface{} `json:"data,omitempty"`
	RawData          interface{} `json:"raw_data,omitempty"`
	OperationType    string      `json:"operation_type"`
	EntitiesAffected []Entity    `json:"entities_affected,omitempty"`
	ExecutionTime    float64     `json:"execution_time"`
	AgentThoughts    []Thought   `json:"agent_thoughts"`
	ConfidenceScore  float64     `json:"confidence_score"`
	Warnings         []string    `json:"warnings,omitempty"`
}

// Outcome carries what the dispatcher learned into assembly.
type Outcome struct {
	Operation  string
	Confidence float64
	Message    string
	Data       interface{}
	Raw        interface{}
	Entities   []Entity
	Partial    bool
	Warnings   []string
}

// Assemble packages a successful outcome. Confidence passes through
// unchanged unless the outcome was partial, in which case it is capped and
// the warning list explains why.
func Assemble(out Outcome, trace *Trace, elapsed time.Duration) Response {
	confidence := out.Confidence
	warnings := append([]string(nil), out.Warnings...)
	if out.Partial && confidence > partialCap {
		confidence = partialCap
	}
	return Response{
		Success:          true,
		Message:          out.Message,
		Data:             out.Data,
		RawData:          out.Raw,
		OperationType:    out.Operation,
		EntitiesAffected: out.Entities,
		ExecutionTime:    elapsed.Seconds(),
		AgentThoughts:    trace.Steps(),
		ConfidenceScore:  confidence,
		Warnings:         warnings,
	}
}

// Failed packages a failure. The taxonomy kind travels in structured data so
// boundary callers can branch on it without parsing the message.
func Failed(op string, kind invoke.ErrorKind, message string, confidence float64, trace *Trace, elapsed time.Duration) Response {
	return Response{
		Success:         false,
		Message:         message,
		Data:            map[string]interface{}{"error_kind": string(kind)},
		OperationType:   op,
		ExecutionTime:   elapsed.Seconds(),
		AgentThoughts:   trace.Steps(),
		ConfidenceScore: confidence,
	}
}

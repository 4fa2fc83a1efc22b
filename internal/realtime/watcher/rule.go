package watcher

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/syntrixbase/livefeed/internal/events"
)

// Rule describes how raw changes of one collection become events on a topic.
type Rule struct {
	Topic      string
	Collection string

	// OwnerField names the document field holding the owning user id. Dotted
	// paths address nested fields. Empty means the topic is global.
	OwnerField string

	program cel.Program
}

// NewRule builds a rule. filter is an optional CEL expression over the
// variables doc (the changed document) and operation; events for which it
// evaluates to false are dropped.
func NewRule(topic, collection, ownerField, filter string) (Rule, error) {
	if topic == "" {
		return Rule{}, fmt.Errorf("topic is required")
	}
	if collection == "" {
		collection = topic
	}
	r := Rule{Topic: topic, Collection: collection, OwnerField: ownerField}
	if strings.TrimSpace(filter) == "" {
		return r, nil
	}

	prg, err := compileFilter(filter)
	if err != nil {
		return Rule{}, fmt.Errorf("topic %q: %w", topic, err)
	}
	r.program = prg
	return r, nil
}

// UserScoped reports whether events on the topic belong to a single user.
func (r Rule) UserScoped() bool {
	return r.OwnerField != ""
}

func compileFilter(expr string) (cel.Program, error) {
	env, err := cel.NewEnv(
		cel.Variable("doc", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("operation", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compile error: %w", issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("CEL filter must evaluate to bool, got %s", out)
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("CEL program creation error: %w", err)
	}
	return prg, nil
}

// skipReason explains why a raw change produced no event.
type skipReason string

const (
	skipNone        skipReason = ""
	skipOperation   skipReason = "unsupported operation"
	skipOwner       skipReason = "owner not resolvable"
	skipFiltered    skipReason = "filtered"
	skipFilterError skipReason = "filter error"
)

// Normalize converts a raw change into a ChangeEvent. It reports a non-empty
// reason when the change must not be delivered.
func (r Rule) Normalize(raw RawChange) (events.ChangeEvent, skipReason) {
	op := events.OperationType(raw.OperationType)
	if !op.IsValid() {
		return events.ChangeEvent{}, skipOperation
	}

	doc := raw.FullDocument
	if doc == nil {
		doc = raw.FullDocumentBeforeChange
	}
	docID := documentID(raw.DocumentKey, doc)

	evt := events.ChangeEvent{
		Operation:  op,
		Topic:      r.Topic,
		DocumentID: docID,
	}

	if r.UserScoped() {
		owner := stringField(doc, r.OwnerField)
		if owner == "" {
			return events.ChangeEvent{}, skipOwner
		}
		evt.OwnerUserID = owner
	}

	if r.program != nil {
		keep, err := r.evalFilter(doc, op)
		if err != nil {
			return events.ChangeEvent{}, skipFilterError
		}
		if !keep {
			return events.ChangeEvent{}, skipFiltered
		}
	}

	if doc != nil {
		evt.Payload = events.Sanitize(doc)
	} else if docID != "" {
		evt.Payload = map[string]any{"_id": docID}
	}
	return evt, skipNone
}

func (r Rule) evalFilter(doc map[string]any, op events.OperationType) (bool, error) {
	if doc == nil {
		doc = map[string]any{}
	}
	out, _, err := r.program.Eval(map[string]any{
		"doc":       doc,
		"operation": string(op),
	})
	if err != nil {
		return false, err
	}
	keep, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("filter returned %T", out.Value())
	}
	return keep, nil
}

func documentID(key, doc map[string]any) string {
	if id, ok := key["_id"]; ok {
		return formatID(id)
	}
	if id, ok := doc["_id"]; ok {
		return formatID(id)
	}
	return ""
}

func formatID(id any) string {
	switch v := id.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// stringField resolves a dotted path in doc to a string value.
func stringField(doc map[string]any, path string) string {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = m[part]
	}
	return formatID(cur)
}

package policy

import "strings"

// ValidationError describes a single failed check on a document field.
// Path is a dotted field path (e.g. "policy.rules.r1.action").
type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Path + ": " + e.Message
}

// ValidationErrors is the ordered list of all checks a document failed.
// Validation never returns a partially valid document: either the typed
// document is usable or the caller gets this list.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		msgs[i] = fe.Error()
	}
	return strings.Join(msgs, "; ")
}

// Messages returns the human-readable error strings in order.
func (e *ValidationErrors) Messages() []string {
	msgs := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		msgs[i] = fe.Error()
	}
	return msgs
}

// add appends a failed check to the list.
func (e *ValidationErrors) add(path, message string) {
	e.Errors = append(e.Errors, &ValidationError{Path: path, Message: message})
}

// orNil returns nil when no check failed, so callers can compare against nil.
func (e *ValidationErrors) orNil() *ValidationErrors {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

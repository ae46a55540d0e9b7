package hookwire

import (
	"fmt"
	"strings"
	"time"
)

// DuplicateDefinitionError is returned by Registry.Register when a definition
// with the same name is already registered.
type DuplicateDefinitionError struct {
	Name string
}

func (e *DuplicateDefinitionError) Error() string {
	return fmt.Sprintf("definition %q is already registered", e.Name)
}

// DefinitionError reports a malformed definition at registration time.
// Malformed definitions never surface at dispatch time.
type DefinitionError struct {
	Name   string
	Reason string
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("definition %q: %s", e.Name, e.Reason)
}

// FieldError describes a single field that failed validation.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("field %q: %s", e.Field, e.Message)
}

// ValidationError collects every field error produced while validating a
// payload against one definition. It is local to that definition: the
// registry records it and tries the next definition.
type ValidationError struct {
	Definition string
	Fields     []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("payload does not satisfy %q: %s", e.Definition, strings.Join(msgs, "; "))
}

// HandlerError wraps a failure (including a recovered panic) from a single
// handler invocation.
type HandlerError struct {
	Handler string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %q failed: %v", e.Handler, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// HandlerTimeoutError marks a handler that did not complete within its
// timeout. The dispatcher stops waiting; the handler's underlying work is
// not forcibly terminated.
type HandlerTimeoutError struct {
	Handler string
	Timeout time.Duration
}

func (e *HandlerTimeoutError) Error() string {
	return fmt.Sprintf("handler %q timed out after %s", e.Handler, e.Timeout)
}

// DispatchFailure is returned by DispatchRaw when the bus is configured with
// SwallowErrors=false and a handler fails. It carries the first failure and
// the partial result describing what had already completed.
type DispatchFailure struct {
	First     error
	Failed    []string
	Completed []string
	Result    *DispatchResult
}

func (e *DispatchFailure) Error() string {
	return fmt.Sprintf("dispatch failed (%d handler(s) failed, %d completed): %v",
		len(e.Failed), len(e.Completed), e.First)
}

func (e *DispatchFailure) Unwrap() error {
	return e.First
}

// PluginLoadError reports a failed plugin load. Already-loaded plugins and
// in-flight dispatches are unaffected.
type PluginLoadError struct {
	Plugin string
	Err    error
}

func (e *PluginLoadError) Error() string {
	return fmt.Sprintf("load plugin %q: %v", e.Plugin, e.Err)
}

func (e *PluginLoadError) Unwrap() error {
	return e.Err
}

// PluginNotLoadedError is returned when unloading a plugin that is not loaded.
type PluginNotLoadedError struct {
	Plugin string
}

func (e *PluginNotLoadedError) Error() string {
	return fmt.Sprintf("plugin %q is not loaded", e.Plugin)
}

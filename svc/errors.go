package svc

import (
	"errors"
	"fmt"
)

// ConfigError is the synchronous, install-time error family (§7):
// duplicate provider, cycle detected, require-and-provide-same-name,
// misuse after install, foreign-thread builder access. All are
// recoverable — the caller fixes the builder and retries.
type ConfigError struct {
	Kind    string
	Message string
	Cycle   []Name // populated only for Kind == "cycle_detected"
}

func (e *ConfigError) Error() string {
	return e.Message
}

// IsConfigError reports whether err is a *ConfigError, optionally of a
// specific kind (pass "" to match any kind).
func IsConfigError(err error, kind string) bool {
	var ce *ConfigError
	if !errors.As(err, &ce) {
		return false
	}
	return kind == "" || ce.Kind == kind
}

func errDuplicateProvider(name Name) error {
	return &ConfigError{Kind: "duplicate_provider", Message: fmt.Sprintf("svc: %s already has a provider", name)}
}

func errCycleDetected(cycle []Name) error {
	names := make([]string, len(cycle))
	for i, n := range cycle {
		names[i] = n.String()
	}
	return &ConfigError{
		Kind:    "cycle_detected",
		Message: fmt.Sprintf("svc: dependency cycle detected: %v", names),
		Cycle:   cycle,
	}
}

func errSameNameRequiredAndProvided(name Name) error {
	return &ConfigError{Kind: "require_provide_same_name", Message: fmt.Sprintf("svc: %s is both required and provided by the same service", name)}
}

func errForeignThreadBuilder() error {
	return &ConfigError{Kind: "foreign_thread_builder", Message: "svc: builder touched from a different goroutine than the one that created it"}
}

func errAlreadyInstalled() error {
	return &ConfigError{Kind: "already_installed", Message: "svc: builder already installed"}
}

func errNilArgument(what string) error {
	return &ConfigError{Kind: "nil_argument", Message: fmt.Sprintf("svc: %s must not be nil", what)}
}

// IllegalStateError reports an internal contract violation: calling
// Complete/Fail twice on a lifecycle context, or writing a provided
// value outside the owning controller's start/stop window (§7).
type IllegalStateError struct {
	Message string
}

func (e *IllegalStateError) Error() string {
	return e.Message
}

func errIllegalState(format string, args ...interface{}) error {
	return &IllegalStateError{Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports that a name passed to StartContext.Provide is
// not one of the controller's provided names.
type NotFoundError struct {
	Name Name
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("svc: %s not found", e.Name)
}

func errNotFound(name Name) error {
	return &NotFoundError{Name: name}
}

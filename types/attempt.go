// Package types defines core domain types for modpatch.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// packageNamePattern matches a Java-style application identifier with at least two segments.
var packageNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*(\.[A-Za-z][A-Za-z0-9_]*)+$`)

// ValidatePackageName reports whether name is usable as an application identifier.
func ValidatePackageName(name string) error {
	if !packageNamePattern.MatchString(name) {
		return fmt.Errorf("invalid package name %q", name)
	}
	return nil
}

// PatchOptions are the user choices for one patch attempt.
// They are persisted into the patched archive so an update can reuse them.
type PatchOptions struct {
	// PackageName is the application identifier of the patched app.
	PackageName string `json:"package_name" yaml:"package_name"`
	// AppName is the launcher label.
	AppName string `json:"app_name" yaml:"app_name"`
	// Debuggable marks the application debuggable.
	Debuggable bool `json:"debuggable" yaml:"debuggable"`
	// Channel selects the remote build channel (e.g. "stable").
	Channel string `json:"channel" yaml:"channel"`
	// IconPath is an optional local PNG replacing the launcher icon.
	IconPath string `json:"icon_path,omitempty" yaml:"icon_path,omitempty"`
	// IconBackground is the adaptive icon background color as 0xAARRGGBB.
	IconBackground uint32 `json:"icon_background,omitempty" yaml:"icon_background,omitempty"`
}

// Validate checks the options before an attempt starts.
func (o *PatchOptions) Validate() error {
	if err := ValidatePackageName(o.PackageName); err != nil {
		return err
	}
	if o.AppName == "" {
		return errors.New("app_name must be non-empty")
	}
	return nil
}

// ComponentVersions records which remote artifacts went into a patched archive.
type ComponentVersions struct {
	Base     string `json:"base"`
	Injector string `json:"injector"`
	Libs     string `json:"libs,omitempty"`
}

// InstallMetadata is the JSON record written into every patched archive.
type InstallMetadata struct {
	FormatVersion int               `json:"format_version"`
	ToolVersion   string            `json:"tool_version"`
	AttemptID     string            `json:"attempt_id"`
	Options       PatchOptions      `json:"options"`
	Versions      ComponentVersions `json:"versions"`
	CreatedAt     time.Time         `json:"created_at"`
}

// OutcomeStatus is the terminal status of a patch attempt.
type OutcomeStatus string

const (
	// OutcomeSuccess indicates every step finished with Success or Skipped.
	OutcomeSuccess OutcomeStatus = "success"
	// OutcomeError indicates a step failed and the pipeline halted.
	OutcomeError OutcomeStatus = "error"
	// OutcomeCancelled indicates the attempt was cancelled; no log is persisted.
	OutcomeCancelled OutcomeStatus = "cancelled"
)

// AttemptOutcome is the outcome of one patch attempt.
type AttemptOutcome struct {
	// Status is the outcome classification.
	Status OutcomeStatus `json:"status"`
	// Message is a human-readable description.
	Message string `json:"message"`
	// Step is the name of the failing step (error status only).
	Step string `json:"step,omitempty"`
	// Kind classifies the failure (error status only).
	Kind ErrorKind `json:"kind,omitempty"`
	// Stack is the goroutine stack captured at failure (error status only).
	Stack *string `json:"stack,omitempty"`
}

// EnvironmentInfo describes the host an attempt ran on.
type EnvironmentInfo struct {
	OS          string `json:"os"`
	Arch        string `json:"arch"`
	GoVersion   string `json:"go_version"`
	ToolVersion string `json:"tool_version"`
	Hostname    string `json:"hostname,omitempty"`
}

// InstallLogRecord is the persisted record of one patch attempt.
// It is written once when the attempt ends and never modified afterwards.
type InstallLogRecord struct {
	AttemptID   string            `json:"attempt_id"`
	Environment EnvironmentInfo   `json:"environment"`
	Options     PatchOptions      `json:"options"`
	Versions    ComponentVersions `json:"versions"`
	StartedAt   time.Time         `json:"started_at"`
	DurationMs  int64             `json:"duration_ms"`
	Outcome     AttemptOutcome    `json:"outcome"`
	Transcript  string            `json:"transcript"`
}

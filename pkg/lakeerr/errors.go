// Package lakeerr defines the error taxonomy shared by the lake packages.
//
// Every error is surfaced to the caller; nothing in the lake retries or
// swallows them. Typed errors carry the path, scope or record index needed
// to diagnose the failure and match their sentinel via errors.Is.
package lakeerr

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConfig matches any ConfigError.
	ErrConfig = errors.New("invalid configuration")
	// ErrManifestNotFound indicates an expected manifest is absent.
	ErrManifestNotFound = errors.New("manifest not found")
	// ErrManifestDecode matches any ManifestDecodeError.
	ErrManifestDecode = errors.New("manifest decode failed")
	// ErrLockTimeout matches any LockTimeoutError.
	ErrLockTimeout = errors.New("lock timeout")
	// ErrMissingExtractionTime matches any MissingExtractionTimeError.
	ErrMissingExtractionTime = errors.New("missing extraction time")
	// ErrInvalidID matches any InvalidIDError.
	ErrInvalidID = errors.New("invalid id")
)

// ConfigError reports an unknown selector or invalid setting. It is raised
// at construction time, never mid-operation.
type ConfigError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("config %s=%q: %s", e.Field, e.Value, e.Reason)
}

// Is reports whether target is ErrConfig.
func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

// NewConfigError is a shorthand for building a ConfigError.
func NewConfigError(field, value, reason string) error {
	return &ConfigError{Field: field, Value: value, Reason: reason}
}

// ManifestDecodeError reports malformed JSON at an existing manifest path.
type ManifestDecodeError struct {
	Path string
	Err  error
}

func (e *ManifestDecodeError) Error() string {
	return fmt.Sprintf("decode manifest %s: %v", e.Path, e.Err)
}

func (e *ManifestDecodeError) Unwrap() error { return e.Err }

// Is reports whether target is ErrManifestDecode.
func (e *ManifestDecodeError) Is(target error) bool { return target == ErrManifestDecode }

// LockTimeoutError reports that a lock scope could not be acquired in time.
type LockTimeoutError struct {
	Scope   string
	Timeout time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("acquire lock %s: timed out after %s", e.Scope, e.Timeout)
}

// Is reports whether target is ErrLockTimeout.
func (e *LockTimeoutError) Is(target error) bool { return target == ErrLockTimeout }

// MissingExtractionTimeError reports a record without a usable extraction
// timestamp. Index is the zero-based position of the record in the write
// session, or -1 when unknown.
type MissingExtractionTimeError struct {
	Index int
	Field string
	Value string
}

func (e *MissingExtractionTimeError) Error() string {
	msg := "record has no time_extracted or record._sdc_extracted_at"
	if e.Field != "" {
		msg = fmt.Sprintf("record field %s=%q is not an ISO-8601 timestamp", e.Field, e.Value)
	}
	if e.Index >= 0 {
		return fmt.Sprintf("record %d: %s", e.Index, msg)
	}
	return msg
}

// Is reports whether target is ErrMissingExtractionTime.
func (e *MissingExtractionTimeError) Is(target error) bool {
	return target == ErrMissingExtractionTime
}

// InvalidIDError reports a tap or stream id that cannot be used as a single
// path segment.
type InvalidIDError struct {
	Kind string
	ID   string
}

func (e *InvalidIDError) Error() string {
	return fmt.Sprintf("invalid %s id %q: must be one non-empty path segment", e.Kind, e.ID)
}

// Is reports whether target is ErrInvalidID.
func (e *InvalidIDError) Is(target error) bool { return target == ErrInvalidID }

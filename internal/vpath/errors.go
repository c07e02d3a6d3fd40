// Package vpath implements the polymorphic path abstraction that spans
// local, SSH, S3, and archive storage backends behind one navigation model.
package vpath

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a path-layer failure into the taxonomy every backend
// must map its underlying errors onto.
type ErrorKind int

// Error kinds, ordered roughly by how often callers will want to branch on
// them.
const (
	KindUnknown ErrorKind = iota
	KindNotFound
	KindPermissionDenied
	KindDiskSpaceExhausted
	KindIoError
	KindArchiveFormat
	KindArchiveCorrupted
	KindArchiveNavigation
	KindArchiveExtraction
	KindReadOnlyStorage
	KindCancelled
	KindInvalidURI
	KindConfigurationError
	KindFileExists
	KindNotADirectory
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindDiskSpaceExhausted:
		return "DiskSpaceExhausted"
	case KindIoError:
		return "IoError"
	case KindArchiveFormat:
		return "ArchiveFormat"
	case KindArchiveCorrupted:
		return "ArchiveCorrupted"
	case KindArchiveNavigation:
		return "ArchiveNavigation"
	case KindArchiveExtraction:
		return "ArchiveExtraction"
	case KindReadOnlyStorage:
		return "ReadOnlyStorage"
	case KindCancelled:
		return "Cancelled"
	case KindInvalidURI:
		return "InvalidUri"
	case KindConfigurationError:
		return "ConfigurationError"
	case KindFileExists:
		return "FileExists"
	case KindNotADirectory:
		return "NotADirectory"
	default:
		return "Unknown"
	}
}

// Error is the single error type every backend and every higher-level
// component (archive, cache, task, executor) raises. It carries both a
// technical message for logs and a user-friendly message for dialogs.
type Error struct {
	Kind      ErrorKind
	Technical string
	User      string
	Err       error
}

func (e *Error) Error() string {
	if e.Technical != "" {
		return e.Technical
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, vpath.ErrNotFound) style checks work by
// comparing kinds rather than identity.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// NewError builds an *Error with a kind-appropriate default user message
// when one isn't supplied.
func NewError(kind ErrorKind, technical string, cause error) *Error {
	return &Error{Kind: kind, Technical: technical, User: defaultUserMessage(kind), Err: cause}
}

// NewErrorf is NewError with a formatted technical message.
func NewErrorf(kind ErrorKind, cause error, format string, args ...any) *Error {
	return NewError(kind, fmt.Sprintf(format, args...), cause)
}

// Kind reports the ErrorKind of err, or KindUnknown if err isn't (or doesn't
// wrap) a *Error.
func Kind(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func defaultUserMessage(kind ErrorKind) string {
	switch kind {
	case KindNotFound:
		return "The file or folder could not be found."
	case KindPermissionDenied:
		return "Permission denied."
	case KindDiskSpaceExhausted:
		return "Not enough disk space to complete the operation."
	case KindIoError:
		return "An I/O error occurred."
	case KindArchiveFormat:
		return "Unsupported or unknown archive format."
	case KindArchiveCorrupted:
		return "The archive could not be read; it may be corrupted."
	case KindArchiveNavigation:
		return "That path does not exist inside the archive."
	case KindArchiveExtraction:
		return "Failed to extract the requested item from the archive."
	case KindReadOnlyStorage:
		return "This storage is read-only."
	case KindCancelled:
		return "Operation cancelled."
	case KindInvalidURI:
		return "That path could not be understood."
	case KindConfigurationError:
		return "Missing or invalid configuration for this storage."
	case KindFileExists:
		return "A file already exists at the destination."
	case KindNotADirectory:
		return "That is not a directory."
	default:
		return "An unexpected error occurred."
	}
}

// sentinel convenience errors for errors.Is comparisons against a bare kind.
var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrReadOnlyStorage  = &Error{Kind: KindReadOnlyStorage}
	ErrCancelled        = &Error{Kind: KindCancelled}
	ErrFileExists       = &Error{Kind: KindFileExists}
	ErrNotADirectory    = &Error{Kind: KindNotADirectory}
)

package vpath

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsComparesKindNotIdentity(t *testing.T) {
	a := NewErrorf(KindNotFound, nil, "a missing")
	b := NewErrorf(KindNotFound, nil, "b also missing")
	assert.True(t, errors.Is(a, b))

	c := NewErrorf(KindPermissionDenied, nil, "denied")
	assert.False(t, errors.Is(a, c))
}

func TestKindExtractsFromWrappedError(t *testing.T) {
	base := NewErrorf(KindArchiveCorrupted, nil, "bad zip")
	wrapped := errors.New("context: " + base.Error())
	assert.Equal(t, KindUnknown, Kind(wrapped))
	assert.Equal(t, KindArchiveCorrupted, Kind(base))
	assert.Equal(t, KindArchiveCorrupted, Kind(fmt.Errorf("context: %w", base)))
}

func TestErrorUnwrapReturnsCause(t *testing.T) {
	cause := errors.New("disk exploded")
	e := NewError(KindIoError, "io failed", cause)
	assert.Equal(t, cause, errors.Unwrap(e))
}

func TestDefaultUserMessagesAreSet(t *testing.T) {
	for _, kind := range []ErrorKind{
		KindNotFound, KindPermissionDenied, KindDiskSpaceExhausted, KindIoError,
		KindArchiveFormat, KindArchiveCorrupted, KindArchiveNavigation,
		KindArchiveExtraction, KindReadOnlyStorage, KindCancelled, KindInvalidURI,
		KindConfigurationError, KindFileExists, KindNotADirectory, KindUnknown,
	} {
		e := NewError(kind, "technical detail", nil)
		assert.NotEmpty(t, e.User, "kind %v must have a default user message", kind)
	}
}

func TestErrorStringPrefersTechnical(t *testing.T) {
	e := NewError(KindIoError, "explicit technical message", errors.New("cause"))
	assert.Equal(t, "explicit technical message", e.Error())

	bare := &Error{Kind: KindNotFound, Err: errors.New("underlying")}
	assert.Contains(t, bare.Error(), "underlying")
}

func TestSentinelErrorsMatchByKind(t *testing.T) {
	e := NewErrorf(KindFileExists, nil, "dest already exists")
	assert.True(t, errors.Is(e, ErrFileExists))
	assert.False(t, errors.Is(e, ErrNotFound))
}

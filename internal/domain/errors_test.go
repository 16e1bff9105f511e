package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelErrors_AreDistinct(t *testing.T) {
	all := []error{ErrValidation, ErrUnauthorized, ErrNotFound, ErrTimeout, ErrInteraction, ErrDownload}
	for i, a := range all {
		assert.NotEmpty(t, a.Error())
		for j, b := range all {
			if i != j {
				assert.False(t, errors.Is(a, b), "%v must not match %v", a, b)
			}
		}
	}
}

func TestConversionError_WrapsSentinel(t *testing.T) {
	cause := fmt.Errorf("%w: context deadline exceeded", ErrTimeout)
	err := error(&ConversionError{Stage: StageReady, Detail: ".kdocs-header", Err: cause})

	assert.True(t, errors.Is(err, ErrTimeout))
	assert.False(t, errors.Is(err, ErrInteraction))
	assert.Equal(t, "wait_ready (.kdocs-header): timed out: context deadline exceeded", err.Error())

	var ce *ConversionError
	assert.True(t, errors.As(err, &ce))
	assert.Equal(t, StageReady, ce.Stage)
}

func TestConversionError_WithoutDetail(t *testing.T) {
	err := &ConversionError{Stage: StageDownload, Err: ErrDownload}
	assert.Equal(t, "download: download failed", err.Error())
}

package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvalidEvent(t *testing.T) {
	err := fmt.Errorf("handle send: %w", InvalidEvent("receiverId is required"))

	assert.ErrorIs(t, err, ErrInvalidEvent)
	assert.NotErrorIs(t, err, ErrForbidden)

	var invalid *InvalidEventError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, "receiverId is required", invalid.Reason)
	assert.Equal(t, "handle send: invalid event: receiverId is required", err.Error())
}

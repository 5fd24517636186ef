package broker

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransportErrorWrapping(t *testing.T) {
	cause := io.ErrUnexpectedEOF
	err := &TransportError{Op: "dial", Err: cause}

	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "dial")
	require.True(t, IsTransport(err))
	require.True(t, IsTransport(fmt.Errorf("call failed: %w", err)))
}

func TestIsTransportRejectsOtherErrors(t *testing.T) {
	require.False(t, IsTransport(nil))
	require.False(t, IsTransport(errors.New("plain")))
	require.False(t, IsTransport(ErrTimeout))
}

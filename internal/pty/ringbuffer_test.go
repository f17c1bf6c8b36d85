package pty

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingBuffer_Basic(t *testing.T) {
	r := NewRingBuffer(8)
	require.Equal(t, 0, r.Len())
	require.Empty(t, r.Bytes())
}

func TestRingBuffer_WriteAndRead(t *testing.T) {
	r := NewRingBuffer(8)
	r.Write([]byte("abc"))
	r.Write([]byte("de"))

	require.Equal(t, 5, r.Len())
	require.Equal(t, []byte("abcde"), r.Bytes())
}

func TestRingBuffer_OverwritesOldestOnOverflow(t *testing.T) {
	r := NewRingBuffer(4)
	r.Write([]byte("ab"))
	r.Write([]byte("cd"))
	r.Write([]byte("ef")) // overflow, should drop "ab"

	require.Equal(t, 4, r.Len())
	require.Equal(t, []byte("cdef"), r.Bytes())
}

func TestRingBuffer_WriteLargerThanCapacityKeepsTail(t *testing.T) {
	r := NewRingBuffer(3)
	r.Write([]byte("abcdefgh"))

	require.Equal(t, 3, r.Len())
	require.Equal(t, []byte("fgh"), r.Bytes())
}

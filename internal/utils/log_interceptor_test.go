package utils

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogInterceptor(t *testing.T) {
	var out bytes.Buffer
	li := NewLogInterceptor(&out)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	li.now = func() time.Time { return fixed }

	n, err := li.Write([]byte("first\r\nsec"))
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, "line=1 time=2026-01-02T03:04:05Z first\n", out.String())

	_, err = li.Write([]byte("ond\n"))
	require.NoError(t, err)
	_, err = li.Write([]byte("tail"))
	require.NoError(t, err)
	require.NoError(t, li.Close())

	assert.Equal(t,
		"line=1 time=2026-01-02T03:04:05Z first\n"+
			"line=2 time=2026-01-02T03:04:05Z second\n"+
			"line=3 time=2026-01-02T03:04:05Z tail\n",
		out.String())
}

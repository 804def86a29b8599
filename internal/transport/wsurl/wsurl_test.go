package wsurl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"ws passthrough", "ws://localhost:8080/ws", "ws://localhost:8080/ws?userId=student-1"},
		{"http switched", "http://localhost:8080/ws", "ws://localhost:8080/ws?userId=student-1"},
		{"https switched", "https://rt.example.com/ws", "wss://rt.example.com/ws?userId=student-1"},
		{"existing query kept", "wss://rt.example.com/ws?v=2", "wss://rt.example.com/ws?userId=student-1&v=2"},
		{"existing user replaced", "ws://localhost/ws?userId=other", "ws://localhost/ws?userId=student-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Build(tt.raw, "student-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuild_Escapes(t *testing.T) {
	got, err := Build("ws://localhost/ws", "ana@school.edu")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost/ws?userId=ana%40school.edu", got)
}

func TestBuild_Rejects(t *testing.T) {
	for _, raw := range []string{"ftp://host/ws", "ws:///nohost", "://bad", "localhost:8080"} {
		_, err := Build(raw, "student-1")
		assert.ErrorIs(t, err, ErrInvalidURL, raw)
	}
}

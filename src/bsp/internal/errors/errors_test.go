package errors

import (
	stderr "errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessages(t *testing.T) {
	cause := New("dial tcp: connection refused")

	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "transport with cause",
			err:  &TransportError{Kind: TransportRefused, Endpoint: "127.0.0.1:27400", Err: cause},
			want: "transport connection-refused: 127.0.0.1:27400: dial tcp: connection refused",
		},
		{
			name: "launcher without cause",
			err:  &LauncherError{Kind: LauncherReadinessTimeout, Endpoint: "127.0.0.1:27400"},
			want: "launcher readiness-timeout: 127.0.0.1:27400",
		},
		{
			name: "protocol",
			err:  &ProtocolError{Kind: ProtocolVersionIncompatible},
			want: "protocol version-incompatible",
		},
		{
			name: "unknown target",
			err:  &UnknownTargetError{Target: "file:///w?id=ghost"},
			want: "unknown build target: file:///w?id=ghost",
		},
		{
			name: "cache with origin and target",
			err:  &CacheError{Kind: CacheTimeout, Origin: "o1", Target: "core"},
			want: "compile result timeout: origin o1 target core",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestUnwrap(t *testing.T) {
	cause := New("underlying")

	assert.ErrorIs(t, &TransportError{Kind: TransportTimeout, Err: cause}, cause)
	assert.ErrorIs(t, &LauncherError{Kind: LauncherSpawnFailed, Err: cause}, cause)
	assert.ErrorIs(t, &ProtocolError{Kind: ProtocolMalformedHandshake, Err: cause}, cause)
	assert.ErrorIs(t, &CacheError{Kind: CacheDecodeFailed, Err: cause}, cause)
}

func TestIsConnectionLost(t *testing.T) {
	lost := &CacheError{Kind: CacheConnectionLost, Origin: "o1"}

	assert.True(t, IsConnectionLost(lost))
	assert.True(t, IsConnectionLost(stderr.Join(New("wrapped"), lost)))
	assert.False(t, IsConnectionLost(&CacheError{Kind: CacheTimeout}))
	assert.False(t, IsConnectionLost(New("plain")))
}

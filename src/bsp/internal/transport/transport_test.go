package transport

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bsperrors "github.com/uber/bsp-go/src/bsp/internal/errors"
)

func TestDialTCP(t *testing.T) {
	t.Run("established connection round trips", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer ln.Close()

		accepted := make(chan net.Conn, 1)
		go func() {
			conn, err := ln.Accept()
			if err == nil {
				accepted <- conn
			}
		}()

		port := ln.Addr().(*net.TCPAddr).Port
		stream, err := Dial(context.Background(), TCP{Host: "127.0.0.1", Port: port})
		require.NoError(t, err)
		defer stream.Close()

		server := <-accepted
		defer server.Close()

		_, err = stream.Write([]byte("ping"))
		require.NoError(t, err)
		buf := make([]byte, 4)
		_, err = server.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, "ping", string(buf))
	})

	t.Run("nothing listening is reported as refused", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		port := ln.Addr().(*net.TCPAddr).Port
		require.NoError(t, ln.Close())

		_, err = Dial(context.Background(), TCP{Host: "127.0.0.1", Port: port})
		require.Error(t, err)

		var terr *bsperrors.TransportError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, bsperrors.TransportRefused, terr.Kind)
	})

	t.Run("malformed address fails without dialing", func(t *testing.T) {
		_, err := Dial(context.Background(), TCP{Host: "", Port: 0})
		var terr *bsperrors.TransportError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, bsperrors.TransportMalformedAddress, terr.Kind)
	})

	t.Run("close is idempotent", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer ln.Close()
		go func() {
			conn, err := ln.Accept()
			if err == nil {
				conn.Close()
			}
		}()

		port := ln.Addr().(*net.TCPAddr).Port
		stream, err := Dial(context.Background(), TCP{Host: "127.0.0.1", Port: port})
		require.NoError(t, err)

		first := stream.Close()
		second := stream.Close()
		assert.NoError(t, first)
		assert.Equal(t, first, second)
	})
}

func TestDialSocket(t *testing.T) {
	t.Run("round trip over domain socket", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bsp.sock")
		ln, err := Listen(Socket{Path: path})
		require.NoError(t, err)
		defer ln.Close()

		go func() {
			conn, err := ln.Accept()
			if err == nil {
				conn.Write([]byte("pong"))
				conn.Close()
			}
		}()

		stream, err := Dial(context.Background(), Socket{Path: path})
		require.NoError(t, err)
		defer stream.Close()

		buf := make([]byte, 4)
		_, err = stream.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, "pong", string(buf))
	})

	t.Run("empty path is malformed", func(t *testing.T) {
		_, err := Dial(context.Background(), Socket{})
		var terr *bsperrors.TransportError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, bsperrors.TransportMalformedAddress, terr.Kind)
	})

	t.Run("stale socket file is replaced on listen", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "stale.sock")
		first, err := Listen(Socket{Path: path})
		require.NoError(t, err)
		// Simulate a dead server leaving its socket file behind.
		first.(*net.UnixListener).SetUnlinkOnClose(false)
		require.NoError(t, first.Close())
		_, statErr := os.Stat(path)
		require.NoError(t, statErr)

		second, err := Listen(Socket{Path: path})
		require.NoError(t, err)
		defer second.Close()
	})
}

func TestDialPipe(t *testing.T) {
	t.Run("duplex stream over two pipes", func(t *testing.T) {
		toServerR, toServerW, err := os.Pipe()
		require.NoError(t, err)
		fromServerR, fromServerW, err := os.Pipe()
		require.NoError(t, err)
		defer toServerR.Close()
		defer fromServerW.Close()

		stream, err := Dial(context.Background(), Pipe{Reader: fromServerR, Writer: toServerW})
		require.NoError(t, err)
		defer stream.Close()

		_, err = stream.Write([]byte("out"))
		require.NoError(t, err)
		buf := make([]byte, 3)
		_, err = toServerR.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, "out", string(buf))

		_, err = fromServerW.Write([]byte("in!"))
		require.NoError(t, err)
		_, err = stream.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, "in!", string(buf))
	})

	t.Run("close closes both directions once", func(t *testing.T) {
		r1, w1, err := os.Pipe()
		require.NoError(t, err)
		r2, w2, err := os.Pipe()
		require.NoError(t, err)
		defer r1.Close()
		defer w2.Close()

		stream, err := Dial(context.Background(), Pipe{Reader: r2, Writer: w1})
		require.NoError(t, err)

		assert.NoError(t, stream.Close())
		assert.NoError(t, stream.Close())

		// The write end of the server-facing pipe observes EOF.
		buf := make([]byte, 1)
		_, err = r1.Read(buf)
		assert.Error(t, err)
	})

	t.Run("missing ends are malformed", func(t *testing.T) {
		_, err := Dial(context.Background(), Pipe{})
		var terr *bsperrors.TransportError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, bsperrors.TransportMalformedAddress, terr.Kind)
	})

	t.Run("string survives missing ends", func(t *testing.T) {
		// Endpoint strings are used as cache keys before any validation runs.
		assert.Equal(t, "pipe://<nil>,<nil>", Pipe{}.String())

		r, w, err := os.Pipe()
		require.NoError(t, err)
		defer r.Close()
		defer w.Close()
		assert.Equal(t, "pipe://<nil>,"+w.Name(), Pipe{Writer: w}.String())
	})
}

func TestEndpointConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     EndpointConfig
		want    Endpoint
		wantErr bool
	}{
		{
			name: "tcp",
			cfg:  EndpointConfig{Kind: KindTCP, Address: "127.0.0.1:8123"},
			want: TCP{Host: "127.0.0.1", Port: 8123},
		},
		{
			name: "socket",
			cfg:  EndpointConfig{Kind: KindSocket, Path: "/tmp/bsp.sock"},
			want: Socket{Path: "/tmp/bsp.sock"},
		},
		{
			name:    "tcp with bad address",
			cfg:     EndpointConfig{Kind: KindTCP, Address: "no-port"},
			wantErr: true,
		},
		{
			name:    "socket without path",
			cfg:     EndpointConfig{Kind: KindSocket},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			cfg:     EndpointConfig{Kind: "carrier-pigeon"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cfg.Endpoint()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

package prometheus

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/artpar/quickops/internal/core/monitoring"
)

// fakeHost emulates the monitoring host's shell for the commands the
// registry issues.
type fakeHost struct {
	mu       sync.Mutex
	file     []byte
	commands []string
	failOn   string
}

func (f *fakeHost) Exec(_ context.Context, command string, stdin []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)
	if f.failOn != "" && strings.HasPrefix(command, f.failOn) {
		return nil, errors.New("exit status 1")
	}
	switch {
	case strings.HasPrefix(command, "if [ -f"):
		return f.file, nil
	case strings.HasPrefix(command, "cat >"):
		f.file = stdin
	}
	return nil, nil
}

func TestRegistry_FetchTargets_MissingFileIsEmpty(t *testing.T) {
	r := NewRegistry(&fakeHost{}, nil, Config{}, nil)
	groups, err := r.FetchTargets(context.Background())
	require.NoError(t, err)
	assert.Empty(t, groups)
	assert.NotNil(t, groups)
}

func TestRegistry_FetchTargets_InvalidJSON(t *testing.T) {
	r := NewRegistry(&fakeHost{file: []byte("{not json")}, nil, Config{}, nil)
	_, err := r.FetchTargets(context.Background())
	assert.Error(t, err)
}

func TestRegistry_MergeAndPushIsIdempotent(t *testing.T) {
	host := &fakeHost{file: []byte(`[{"targets":["other:9100"],"labels":{"job":"node","env":"prod"}}]`)}
	r := NewRegistry(host, nil, Config{}, nil)
	ctx := context.Background()
	additions := monitoring.TargetsFor("shop", "shop.example.net", []string{"https://git/x/orders.git", "https://git/x/users"})

	for i := 0; i < 2; i++ {
		current, err := r.FetchTargets(ctx)
		require.NoError(t, err)
		require.NoError(t, r.PushTargets(ctx, monitoring.MergeTargets(current, additions)))
	}

	var written []monitoring.TargetGroup
	require.NoError(t, json.Unmarshal(host.file, &written))
	require.Len(t, written, 3)
	assert.Equal(t, "prod", written[0].Labels["env"], "unknown labels survive")
	assert.Equal(t, []string{"shop.example.net:5000"}, written[1].Targets)
	assert.Equal(t, "shop-orders", written[1].Job())
	assert.Equal(t, []string{"shop.example.net:5001"}, written[2].Targets)
	assert.Equal(t, "shop-users", written[2].Job())

	assert.Contains(t, host.commands[1],
		"cat > '/etc/prometheus/quickops-targets.json.tmp' && mv '/etc/prometheus/quickops-targets.json.tmp' '/etc/prometheus/quickops-targets.json'")
}

func TestRegistry_ReloadOverSSH(t *testing.T) {
	host := &fakeHost{}
	r := NewRegistry(host, nil, Config{ContainerName: "prom"}, nil)
	require.NoError(t, r.Reload(context.Background()))
	assert.Equal(t, []string{"docker kill --signal=SIGHUP 'prom'"}, host.commands)

	host.failOn = "docker kill"
	assert.Error(t, r.Reload(context.Background()))
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, `'plain'`, shellQuote("plain"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
}

// =============================================================================
// Docker reloader
// =============================================================================

type fakeKiller struct {
	container, signal string
	err               error
}

func (f *fakeKiller) ContainerKill(_ context.Context, id, signal string) error {
	f.container, f.signal = id, signal
	return f.err
}

func TestDockerReloader(t *testing.T) {
	k := &fakeKiller{}
	r := NewRegistry(&fakeHost{}, newDockerReloader(k, "", nil), Config{}, nil)
	require.NoError(t, r.Reload(context.Background()))
	assert.Equal(t, "prometheus", k.container)
	assert.Equal(t, "SIGHUP", k.signal)
}

func TestDockerReloader_NotFound(t *testing.T) {
	k := &fakeKiller{err: fmt.Errorf("no such container: %w", errdefs.ErrNotFound)}
	err := newDockerReloader(k, "prom", nil).Reload(context.Background())
	require.Error(t, err)
	assert.True(t, errdefs.IsNotFound(err))
	assert.Contains(t, err.Error(), `container "prom" not found`)
}

// =============================================================================
// SSH executor
// =============================================================================

// startSSHServer serves exec requests by echoing the command, followed by
// whatever arrived on stdin.
func startSSHServer(t *testing.T, clientKey ssh.PublicKey) (addr string, hostKey ssh.PublicKey) {
	t.Helper()
	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if string(key.Marshal()) == string(clientKey.Marshal()) {
				return nil, nil
			}
			return nil, errors.New("unknown key")
		},
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSSH(conn, cfg)
		}
	}()
	return ln.Addr().String(), hostSigner.PublicKey()
}

func serveSSH(conn net.Conn, cfg *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)
	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			newCh.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			continue
		}
		go func() {
			defer ch.Close()
			for req := range chReqs {
				if req.Type != "exec" {
					req.Reply(false, nil)
					continue
				}
				n := binary.BigEndian.Uint32(req.Payload[:4])
				command := string(req.Payload[4 : 4+n])
				req.Reply(true, nil)

				stdin, _ := io.ReadAll(ch)
				status := uint32(0)
				if strings.HasPrefix(command, "false") {
					status = 1
					fmt.Fprint(ch.Stderr(), "failed")
				} else {
					fmt.Fprintf(ch, "ran %s|%s", command, stdin)
				}
				ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
				return
			}
		}()
	}
}

func TestSSHExecutor(t *testing.T) {
	_, clientPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(clientPriv, "")
	require.NoError(t, err)
	clientSigner, err := ssh.NewSignerFromKey(clientPriv)
	require.NoError(t, err)

	addr, hostKey := startSSHServer(t, clientSigner.PublicKey())
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	portNum, err := strconv.Atoi(port)
	require.NoError(t, err)

	exec, err := NewSSHExecutor(SSHConfig{
		Host:       host,
		Port:       portNum,
		User:       "ops",
		PrivateKey: pem.EncodeToMemory(block),
		HostKey:    string(ssh.MarshalAuthorizedKey(hostKey)),
	}, nil)
	require.NoError(t, err)
	defer exec.Close()

	out, err := exec.Exec(context.Background(), "cat > /tmp/x", []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, "ran cat > /tmp/x|payload", string(out))

	// Second call reuses the connection.
	out, err = exec.Exec(context.Background(), "echo hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "ran echo hi|", string(out))

	_, err = exec.Exec(context.Background(), "false", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
}

func TestNewSSHExecutor_InvalidKey(t *testing.T) {
	_, err := NewSSHExecutor(SSHConfig{Host: "h", PrivateKey: []byte("nope")}, nil)
	assert.Error(t, err)
}

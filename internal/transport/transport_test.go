package transport_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chordkv/internal/netaddr"
	"chordkv/internal/transport"
)

type stubHandler struct{}

func (stubHandler) HandleStoreKey(ctx context.Context, key, value string) (string, string) {
	return "success", "Key stored successfully"
}
func (stubHandler) HandleRetrieveKey(ctx context.Context, key string) (string, string, string) {
	return "success", "42", ""
}
func (stubHandler) HandleDeleteKey(ctx context.Context, key string) (string, string) {
	return "error", "Key not found"
}
func (stubHandler) HandleFindSuccessor(ctx context.Context, id uint64) netaddr.Address {
	return netaddr.New("127.0.0.1", 9100)
}
func (stubHandler) HandleGetPredecessor(ctx context.Context) *netaddr.Address {
	return nil
}
func (stubHandler) HandleGetSuccessorList(ctx context.Context) []netaddr.Address {
	return nil
}
func (stubHandler) HandleNotify(ctx context.Context, candidate netaddr.Address) (string, *netaddr.Address) {
	return "notified", nil
}
func (stubHandler) HandlePing(ctx context.Context) string {
	return "alive"
}

func startTestServer(t *testing.T, addr netaddr.Address, handler transport.Handler, maxConcurrent int64) {
	t.Helper()
	srv := transport.NewServer(addr, handler, maxConcurrent, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx) }()
	time.Sleep(50 * time.Millisecond)
}

func TestClientServerRoundTrip(t *testing.T) {
	addr := netaddr.New("127.0.0.1", 19321)
	startTestServer(t, addr, stubHandler{}, 4)

	client := transport.NewClient(netaddr.New("127.0.0.1", 0), transport.ClientOptions{
		ConnectTimeout: time.Second,
		MaxRetries:     3,
		RetryDelay:     10 * time.Millisecond,
		BackoffFactor:  2,
	}, nil)

	assert.True(t, client.Ping(addr))

	status, message, err := client.StoreKey(context.Background(), addr, "k", "v")
	require.NoError(t, err)
	assert.Equal(t, "success", status)
	assert.NotEmpty(t, message)

	status, value, _, err := client.RetrieveKey(context.Background(), addr, "k")
	require.NoError(t, err)
	assert.Equal(t, "success", status)
	assert.Equal(t, "42", value)

	succ, err := client.FindSuccessor(context.Background(), addr, 5)
	require.NoError(t, err)
	assert.Equal(t, netaddr.New("127.0.0.1", 9100), succ)

	pred, err := client.GetPredecessor(context.Background(), addr)
	require.NoError(t, err)
	assert.Nil(t, pred)
}

func TestUnknownCommandYieldsError(t *testing.T) {
	addr := netaddr.New("127.0.0.1", 19322)
	startTestServer(t, addr, stubHandler{}, 4)

	conn, err := net.DialTimeout("tcp", addr.String(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(`{"command":"bogus"}`))
	require.NoError(t, err)

	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "Invalid command")
}

type slowHandler struct {
	stubHandler
	release chan struct{}
}

func (h *slowHandler) HandleStoreKey(ctx context.Context, key, value string) (string, string) {
	<-h.release
	return "success", "ok"
}

func TestServerDropsConnectionsBeyondCapacity(t *testing.T) {
	addr := netaddr.New("127.0.0.1", 19323)
	h := &slowHandler{release: make(chan struct{})}
	startTestServer(t, addr, h, 1)
	t.Cleanup(func() { close(h.release) })

	conn1, err := net.DialTimeout("tcp", addr.String(), time.Second)
	require.NoError(t, err)
	defer conn1.Close()
	_, err = conn1.Write([]byte(`{"command":"store_key","key":"a","value":"b"}`))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond) // let the server acquire the only handler slot

	conn2, err := net.DialTimeout("tcp", addr.String(), time.Second)
	require.NoError(t, err)
	defer conn2.Close()
	conn2.SetReadDeadline(time.Now().Add(time.Second))

	buf := make([]byte, 16)
	n, err := conn2.Read(buf)
	assert.Equal(t, 0, n)
	assert.Error(t, err)
}

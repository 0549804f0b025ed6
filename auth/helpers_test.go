package auth

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jmcleod/editgate/internal/util"
	"github.com/jmcleod/editgate/storage/memory"
)

// testKDF keeps argon2id cheap in tests.
var testKDF = util.Argon2idParams{Time: 1, MemoryKiB: 1024, Parallelism: 1, KeyLen: 32}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestCredentials(t *testing.T, secret string) *CredentialStore {
	t.Helper()
	creds, err := OpenCredentialStore(memory.NewRepository(), DefaultUsername, secret, WithKDFParams(testKDF))
	require.NoError(t, err)
	return creds
}

func newTestGateway(t *testing.T, clock *fakeClock, opts ...GatewayOption) *Gateway {
	t.Helper()
	opts = append([]GatewayOption{WithClock(clock.Now)}, opts...)
	g, err := NewGateway(DefaultConfig(), newTestCredentials(t, DefaultSecret), opts...)
	require.NoError(t, err)
	return g
}

func client(origin string) Client {
	return Client{Origin: origin, UserAgent: "test-agent/1.0"}
}

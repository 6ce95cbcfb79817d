package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wayfinder/internal/store"
)

func TestPoolSeedsOnly(t *testing.T) {
	p := NewPool(store.NewMemory(), time.Minute,
		[]string{"https://arweave.net", "https://permagate.io"},
		[]string{"https://ar-io.dev"}, nil)

	trusted := p.Trusted(context.Background())
	assert.Equal(t, []string{"https://arweave.net", "https://permagate.io"}, Origins(trusted))

	routing := p.Routing(context.Background())
	assert.Equal(t, []string{"https://ar-io.dev"}, Origins(routing))
}

func TestPoolMergesRegistryByStake(t *testing.T) {
	kv := store.NewMemory()
	p := NewPool(kv, time.Minute, []string{"https://arweave.net"}, nil, nil)

	require.NoError(t, p.SetRegistry(context.Background(), []Gateway{
		{Origin: "https://vilenarios.com", Stake: 50},
		{Origin: "https://arweave.net", Stake: 200},
		{Origin: "https://ardrive.net", Stake: 100},
	}))

	trusted := p.Trusted(context.Background())
	assert.Equal(t, []string{
		"https://arweave.net",
		"https://ardrive.net",
		"https://vilenarios.com",
	}, Origins(trusted))

	// The seed picked up the registry's stake rather than duplicating.
	assert.Equal(t, int64(200), trusted[0].Stake)
}

func TestPoolCachesUntilInvalidated(t *testing.T) {
	kv := store.NewMemory()
	p := NewPool(kv, time.Hour, []string{"https://arweave.net"}, nil, nil)

	first := p.Trusted(context.Background())
	require.Len(t, first, 1)

	// Writing the registry directly does not show up while the cache is
	// fresh; SetRegistry invalidates and the next derive sees it.
	raw := []byte(`[{"origin":"https://permagate.io","stake":10}]`)
	require.NoError(t, kv.Set(context.Background(), map[string][]byte{"gateways/registry": raw}))
	assert.Len(t, p.Trusted(context.Background()), 1)

	p.Invalidate()
	assert.Len(t, p.Trusted(context.Background()), 2)
}

func TestPoolSurvivesCorruptRegistry(t *testing.T) {
	kv := store.NewMemory()
	require.NoError(t, kv.Set(context.Background(),
		map[string][]byte{"gateways/registry": []byte("not json")}))

	p := NewPool(kv, time.Minute, []string{"https://arweave.net"}, nil, nil)
	assert.Equal(t, []string{"https://arweave.net"}, Origins(p.Trusted(context.Background())))
}

func TestPoolPersistsSnapshot(t *testing.T) {
	kv := store.NewMemory()
	p := NewPool(kv, time.Minute, []string{"https://arweave.net"}, nil, nil)

	p.Trusted(context.Background())

	values, err := kv.Get(context.Background(), "gateways/pool/trusted")
	require.NoError(t, err)
	assert.Contains(t, string(values["gateways/pool/trusted"]), "arweave.net")
}

func TestPoolNilKV(t *testing.T) {
	p := NewPool(nil, time.Minute, []string{"https://arweave.net"}, nil, nil)
	assert.Equal(t, []string{"https://arweave.net"}, Origins(p.Trusted(context.Background())))
}

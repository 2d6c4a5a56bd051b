//go:build integration

package xstore_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/omeyang/gatekit/internal/storetest"
	"github.com/omeyang/gatekit/pkg/store/xstore"
)

// 集成测试需要真实的 etcd 服务。
// 运行方式: go test -tags=integration -v ./pkg/store/xstore/...
//
// 环境变量:
//   - ETCD_ENDPOINTS: etcd 端点（逗号分隔），默认 "localhost:2379"

func etcdTestEndpoints() []string {
	endpoints := os.Getenv("ETCD_ENDPOINTS")
	if endpoints == "" {
		return []string{"localhost:2379"}
	}
	return strings.Split(endpoints, ",")
}

func newEtcdStore(t *testing.T) xstore.Store {
	t.Helper()

	endpoints := etcdTestEndpoints()
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Skipf("skipping integration test: cannot create etcd client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := client.Status(ctx, endpoints[0]); err != nil {
		t.Skipf("skipping integration test: cannot connect to etcd: %v", err)
	}

	s, err := xstore.NewEtcd(client)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close(context.Background())) })

	return s
}

func TestIntegration_EtcdConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) xstore.Store {
		return newEtcdStore(t)
	})
}

// TestIntegration_EtcdLease 验证 TTL 通过租约生效（秒级向上取整）。
func TestIntegration_EtcdLease(t *testing.T) {
	s := newEtcdStore(t)
	ctx := context.Background()

	key := "storetest:lease:" + time.Now().Format("20060102150405.000")
	require.NoError(t, s.Set(ctx, key, "v", 1500*time.Millisecond))

	_, err := s.Get(ctx, key)
	require.NoError(t, err)

	// 1.5s 取整为 2s 租约
	time.Sleep(3 * time.Second)
	_, err = s.Get(ctx, key)
	require.ErrorIs(t, err, xstore.ErrKeyNotFound)
}

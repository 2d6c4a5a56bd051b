package xstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync/atomic"
	"time"

	"go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// =============================================================================
// etcd 后端
// =============================================================================

// etcdStore 是 etcd clientv3 后盘的 Store 实现。
//
// 读-改-写操作通过 STM 事务执行（冲突自动重试），TTL 通过 Lease 实现
// （秒级粒度，向上取整）。值的存储格式：计数器为十进制字符串，
// 滑动窗口为 Unix 毫秒时间戳的 JSON 数组，桶状态为 {level, ts} JSON。
//
// etcd 的写放大与秒级 TTL 使它适合低频控制面准入（部署锁、任务配额），
// 高 QPS 数据面限流请使用 Redis 后端。
type etcdStore struct {
	client *clientv3.Client
	closed atomic.Bool
}

// NewEtcd 创建 etcd 存储。
// client 的生命周期由调用方管理，Close 不会关闭它。
func NewEtcd(client *clientv3.Client) (Store, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	return &etcdStore{client: client}, nil
}

// =============================================================================
// Store 实现
// =============================================================================

func (s *etcdStore) Get(ctx context.Context, key string) (string, error) {
	if err := s.guard(ctx, key); err != nil {
		return "", err
	}

	resp, err := s.client.Get(ctx, key)
	if err != nil {
		return "", etcdError(err)
	}
	if len(resp.Kvs) == 0 {
		return "", ErrKeyNotFound
	}
	return string(resp.Kvs[0].Value), nil
}

func (s *etcdStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.guard(ctx, key); err != nil {
		return err
	}
	if ttl < 0 {
		return ErrInvalidArgument
	}

	opts, leaseID, err := s.leaseOption(ctx, ttl)
	if err != nil {
		return err
	}

	if _, err := s.client.Put(ctx, key, value, opts...); err != nil {
		s.tryRevokeLease(leaseID)
		return etcdError(err)
	}
	return nil
}

func (s *etcdStore) Delete(ctx context.Context, key string) error {
	if err := s.guard(ctx, key); err != nil {
		return err
	}

	if _, err := s.client.Delete(ctx, key); err != nil {
		return etcdError(err)
	}
	return nil
}

func (s *etcdStore) Increment(ctx context.Context, key string, by int64, ttl time.Duration) (int64, error) {
	if err := s.guard(ctx, key); err != nil {
		return 0, err
	}
	if ttl < 0 {
		return 0, ErrInvalidArgument
	}

	var value int64
	var leaseID clientv3.LeaseID
	var kindErr error

	_, err := concurrency.NewSTM(s.client, func(stm concurrency.STM) error {
		kindErr = nil
		cur := stm.Get(key)
		if cur == "" {
			// 新建：按需创建租约。STM 冲突重试时复用已授予的租约。
			value = by
			opts, err := s.stmLease(ctx, &leaseID, ttl)
			if err != nil {
				return err
			}
			stm.Put(key, strconv.FormatInt(value, 10), opts...)
			return nil
		}

		n, err := strconv.ParseInt(cur, 10, 64)
		if err != nil {
			kindErr = ErrWrongKind
			return ErrWrongKind
		}
		value = n + by
		// 已存在的 key 保留其原有租约
		stm.Put(key, strconv.FormatInt(value, 10), clientv3.WithIgnoreLease())
		return nil
	})
	if err != nil {
		s.tryRevokeLease(leaseID)
		if kindErr != nil {
			return 0, kindErr
		}
		return 0, etcdError(err)
	}
	return value, nil
}

func (s *etcdStore) SlidingWindowAdd(ctx context.Context, key string, ts time.Time, window time.Duration, n int64) (int64, error) {
	if err := s.guard(ctx, key); err != nil {
		return 0, err
	}
	if window <= 0 || n <= 0 {
		return 0, ErrInvalidArgument
	}

	tsMS := ts.UnixMilli()
	cutoff := tsMS - window.Milliseconds()

	var count int64
	var leaseID clientv3.LeaseID
	var kindErr error

	_, err := concurrency.NewSTM(s.client, func(stm concurrency.STM) error {
		kindErr = nil
		var stamps []int64
		if cur := stm.Get(key); cur != "" {
			if err := json.Unmarshal([]byte(cur), &stamps); err != nil {
				kindErr = ErrWrongKind
				return ErrWrongKind
			}
		}

		stamps = windowPrune(stamps, cutoff)
		stamps = windowInsert(stamps, tsMS, int(n))
		count = windowCount(stamps, cutoff, tsMS)

		buf, err := json.Marshal(stamps)
		if err != nil {
			return err
		}

		// 窗口 key 的存活期随每次写入刷新：为本次写入授予新租约，
		// 旧租约随 key 脱离后自行过期
		opts, err := s.stmLease(ctx, &leaseID, window+keyTTLMargin)
		if err != nil {
			return err
		}
		stm.Put(key, string(buf), opts...)
		return nil
	})
	if err != nil {
		s.tryRevokeLease(leaseID)
		if kindErr != nil {
			return 0, kindErr
		}
		return 0, etcdError(err)
	}
	return count, nil
}

func (s *etcdStore) SlidingWindowCount(ctx context.Context, key string, from, to time.Time) (int64, error) {
	if err := s.guard(ctx, key); err != nil {
		return 0, err
	}

	cur, err := s.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return 0, nil
		}
		return 0, err
	}

	var stamps []int64
	if err := json.Unmarshal([]byte(cur), &stamps); err != nil {
		return 0, ErrWrongKind
	}
	return windowCount(stamps, from.UnixMilli(), to.UnixMilli()), nil
}

func (s *etcdStore) TokenBucketConsume(ctx context.Context, key string, capacity int64, refillPerSec float64, cost int64, now time.Time) (ConsumeResult, error) {
	return s.consumeBucket(ctx, key, true, capacity, refillPerSec, cost, now)
}

func (s *etcdStore) LeakyBucketConsume(ctx context.Context, key string, capacity int64, leakPerSec float64, cost int64, now time.Time) (ConsumeResult, error) {
	return s.consumeBucket(ctx, key, false, capacity, leakPerSec, cost, now)
}

func (s *etcdStore) consumeBucket(ctx context.Context, key string, token bool, capacity int64, rate float64, cost int64, now time.Time) (ConsumeResult, error) {
	if err := s.guard(ctx, key); err != nil {
		return ConsumeResult{}, err
	}
	if capacity <= 0 || rate <= 0 || cost < 0 {
		return ConsumeResult{}, ErrInvalidArgument
	}

	nowMS := now.UnixMilli()

	step := leakyBucketStep
	newState := newLeakyBucket
	if token {
		step = tokenBucketStep
		newState = func(ms int64) bucketState { return newTokenBucket(capacity, ms) }
	}

	// 只读探测不需要事务
	if cost == 0 {
		st := newState(nowMS)
		if cur, err := s.Get(ctx, key); err == nil {
			if jsonErr := json.Unmarshal([]byte(cur), &st); jsonErr != nil {
				return ConsumeResult{}, ErrWrongKind
			}
		} else if !errors.Is(err, ErrKeyNotFound) {
			return ConsumeResult{}, err
		}
		_, res := step(st, capacity, rate, cost, nowMS)
		return res, nil
	}

	var result ConsumeResult
	var leaseID clientv3.LeaseID
	var kindErr error

	_, err := concurrency.NewSTM(s.client, func(stm concurrency.STM) error {
		kindErr = nil
		st := newState(nowMS)
		if cur := stm.Get(key); cur != "" {
			if err := json.Unmarshal([]byte(cur), &st); err != nil {
				kindErr = ErrWrongKind
				return ErrWrongKind
			}
		}

		next, res := step(st, capacity, rate, cost, nowMS)
		result = res

		buf, err := json.Marshal(next)
		if err != nil {
			return err
		}

		opts, err := s.stmLease(ctx, &leaseID, bucketTTL(capacity, rate)+keyTTLMargin)
		if err != nil {
			return err
		}
		stm.Put(key, string(buf), opts...)
		return nil
	})
	if err != nil {
		s.tryRevokeLease(leaseID)
		if kindErr != nil {
			return ConsumeResult{}, kindErr
		}
		return ConsumeResult{}, etcdError(err)
	}
	return result, nil
}

func (s *etcdStore) Close(_ context.Context) error {
	if s.closed.Swap(true) {
		return nil // 已关闭
	}
	// etcd 客户端由调用者管理，这里不关闭
	return nil
}

// =============================================================================
// 内部辅助
// =============================================================================

func (s *etcdStore) guard(ctx context.Context, key string) error {
	if ctx == nil {
		return ErrNilContext
	}
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if key == "" {
		return ErrInvalidKey
	}
	return ctx.Err()
}

// leaseOption 为 ttl > 0 的写入授予租约，返回对应的 Put 选项。
// TTL 向上取整为秒，确保 key 不会早于调用方预期过期。
func (s *etcdStore) leaseOption(ctx context.Context, ttl time.Duration) ([]clientv3.OpOption, clientv3.LeaseID, error) {
	if ttl <= 0 {
		return nil, clientv3.NoLease, nil
	}

	seconds := int64(math.Ceil(ttl.Seconds()))
	if seconds < 1 {
		seconds = 1
	}

	lease, err := s.client.Grant(ctx, seconds)
	if err != nil {
		return nil, clientv3.NoLease, etcdError(err)
	}
	return []clientv3.OpOption{clientv3.WithLease(lease.ID)}, lease.ID, nil
}

// stmLease 在 STM 事务内按需授予租约，冲突重试时复用缓存的 leaseID。
func (s *etcdStore) stmLease(ctx context.Context, leaseID *clientv3.LeaseID, ttl time.Duration) ([]clientv3.OpOption, error) {
	if ttl <= 0 {
		return nil, nil
	}
	if *leaseID == clientv3.NoLease {
		opts, id, err := s.leaseOption(ctx, ttl)
		if err != nil {
			return nil, err
		}
		*leaseID = id
		return opts, nil
	}
	return []clientv3.OpOption{clientv3.WithLease(*leaseID)}, nil
}

// tryRevokeLease 尽力撤销失败路径上已授予的租约，避免等待自然过期。
// 使用独立超时 context，原 ctx 可能已取消。
func (s *etcdStore) tryRevokeLease(leaseID clientv3.LeaseID) {
	if leaseID == clientv3.NoLease {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, _ = s.client.Revoke(ctx, leaseID)
}

// etcdError 将 etcd 错误映射到 xstore 错误域。
// 集群侧与网络层故障归类为 ErrUnavailable（读路径可安全重试），
// 其余错误原样包装。
func etcdError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	for _, target := range []error{
		rpctypes.ErrNoLeader,
		rpctypes.ErrLeaderChanged,
		rpctypes.ErrTimeout,
		rpctypes.ErrTimeoutDueToLeaderFail,
		rpctypes.ErrTimeoutDueToConnectionLost,
		rpctypes.ErrTooManyRequests,
	} {
		if errors.Is(err, target) {
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
	}
	if isNetworkError(err) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return fmt.Errorf("xstore: etcd: %w", err)
}

// 编译时接口检查
var _ Store = (*etcdStore)(nil)

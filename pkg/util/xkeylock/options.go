package xkeylock

// defaultShardCount 默认分片数。
// 32 个分片在数百并发 goroutine 下可将分片锁竞争摊薄到可忽略。
const defaultShardCount = 32

type options struct {
	shardCount uint
}

// Option 配置 Locker。
type Option func(*options)

func defaultOptions() options {
	return options{shardCount: defaultShardCount}
}

// WithShardCount 设置分片数，必须是 2 的幂。n = 0 时使用默认值。
func WithShardCount(n uint) Option {
	return func(o *options) {
		if n > 0 {
			o.shardCount = n
		}
	}
}

func (o *options) validate() error {
	if o.shardCount == 0 || o.shardCount&(o.shardCount-1) != 0 {
		return ErrInvalidShardCount
	}
	return nil
}

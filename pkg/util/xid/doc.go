// Package xid 基于 Sonyflake 生成分布式唯一 ID。
//
// 生成的 int64 ID 单调递增，base36 字符串形式（12-13 字符）在同长度下
// 保持字典序可排序，适合作为排队项、许可等短生命周期对象的标识。
//
// 快速开始：
//
//	id, err := xid.NewStringWithRetry(ctx) // 推荐：容忍短暂时钟回拨
//
// 需要隔离实例（测试、多配置）时使用 NewGenerator：
//
//	gen, err := xid.NewGenerator(xid.WithMachineID(func() (uint16, error) {
//	    return 42, nil
//	}))
//	id, err := gen.NewStringWithRetry(ctx)
//
// 机器 ID 默认按 GATEKIT_MACHINE_ID 环境变量、POD_NAME/HOSTNAME 哈希、
// 私有 IPv4 低 16 位的顺序推导，详见 DefaultMachineID。
// 哈希推导存在生日碰撞风险，大规模部署请显式分配 GATEKIT_MACHINE_ID。
package xid

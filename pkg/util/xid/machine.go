package xid

import (
	"errors"
	"fmt"
	"hash/fnv"
	"net"
	"net/netip"
	"os"
	"strconv"
)

// 测试注入点：替换系统调用以覆盖错误分支。
var (
	osHostname        = os.Hostname
	netInterfaceAddrs = net.InterfaceAddrs
)

const (
	// EnvMachineID 直接指定机器 ID 的环境变量（0-65535）。
	EnvMachineID = "GATEKIT_MACHINE_ID"

	// EnvPodName K8s Pod 名称环境变量（Downward API 注入）。
	EnvPodName = "POD_NAME"

	// EnvHostname 主机名环境变量。
	EnvHostname = "HOSTNAME"
)

// DefaultMachineID 按以下优先级推导 16 位机器 ID：
//
//  1. GATEKIT_MACHINE_ID 环境变量（显式分配，唯一可控的方式）
//  2. POD_NAME 环境变量的哈希
//  3. HOSTNAME 环境变量的哈希
//  4. os.Hostname() 的哈希
//  5. 私有 IPv4 地址低 16 位（sonyflake 默认方式）
//
// 哈希推导（策略 2-4）存在生日碰撞风险：50 节点约 1.9%，100 节点约 7.3%。
// 超过 50 节点的部署建议显式分配 GATEKIT_MACHINE_ID。
func DefaultMachineID() (uint16, error) {
	if s := os.Getenv(EnvMachineID); s != "" {
		id, err := strconv.ParseUint(s, 10, 16)
		if err != nil {
			return 0, fmt.Errorf("xid: invalid %s value %q: %w", EnvMachineID, s, err)
		}
		return uint16(id), nil
	}

	if name := os.Getenv(EnvPodName); name != "" {
		return hashToMachineID(name), nil
	}
	if name := os.Getenv(EnvHostname); name != "" {
		return hashToMachineID(name), nil
	}

	hostname, hostErr := osHostname()
	if hostErr == nil && hostname != "" {
		return hashToMachineID(hostname), nil
	}
	if hostErr == nil {
		hostErr = errors.New("os.Hostname returned empty string")
	}

	id, err := machineIDFromPrivateIP()
	if err != nil {
		return 0, fmt.Errorf("xid: all machine ID strategies exhausted (os-hostname: %v): %w", hostErr, err)
	}
	return id, nil
}

// machineIDFromPrivateIP 取私有 IPv4 地址的低 16 位。
// net.InterfaceAddrs 的枚举顺序依赖操作系统，多网卡环境重启后
// 可能选到不同 IP，生产环境建议显式分配。
func machineIDFromPrivateIP() (uint16, error) {
	addrs, err := netInterfaceAddrs()
	if err != nil {
		return 0, err
	}

	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip, ok := netip.AddrFromSlice(ipnet.IP)
		if !ok {
			continue
		}
		ip = ip.Unmap()
		if ip.IsLoopback() || !ip.Is4() {
			continue
		}
		if ip.IsPrivate() || ip.IsLinkLocalUnicast() {
			b := ip.As4()
			return uint16(b[2])<<8 + uint16(b[3]), nil
		}
	}

	return 0, ErrNoPrivateAddress
}

// hashToMachineID 用 FNV-1a 把字符串哈希为 16 位机器 ID。
// XOR 折叠比直接截断低 16 位保留更多哈希信息。
func hashToMachineID(s string) uint16 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	b := h.Sum(nil)
	hi := uint16(b[0])<<8 | uint16(b[1])
	lo := uint16(b[2])<<8 | uint16(b[3])
	return hi ^ lo
}

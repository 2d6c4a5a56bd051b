// Package xconf 提供基于 koanf 的配置加载能力。
//
// 支持 YAML 和 JSON 两种格式，可以从文件或字节切片加载，
// 并提供可选的文件监视能力（变更后自动重载）。
//
// 快速开始:
//
//	cfg, err := xconf.New("/etc/gatekit/rules.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	var limits RuleLimits
//	if err := cfg.Unmarshal("limits", &limits); err != nil {
//	    log.Fatal(err)
//	}
//
// 监视文件变更:
//
//	w, err := xconf.Watch(cfg, func(c *xconf.Config, err error) {
//	    if err != nil {
//	        log.Printf("reload failed: %v", err)
//	        return
//	    }
//	    // 配置已重新加载，从 c 读取最新值
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	w.StartAsync()
//	defer w.Stop()
package xconf

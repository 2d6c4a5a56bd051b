// Package xlru 提供带 TTL 的 LRU 缓存。
//
// 基于 github.com/hashicorp/golang-lru/v2/expirable 封装，补齐两件事：
// 构造参数校验，以及可以真正停止后台清理 goroutine 的 Close。
//
// 快速开始:
//
//	cache, err := xlru.New[string, int](1024, time.Minute)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cache.Close()
//
//	cache.Set("k", 42)
//	if v, ok := cache.Get("k"); ok {
//	    fmt.Println(v)
//	}
package xlru

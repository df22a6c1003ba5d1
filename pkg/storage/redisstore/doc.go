// Package redisstore keeps powerpool results in Redis so that they outlive
// the process that produced them and can be fetched by other instances.
//
// Each result is a hash under "<prefix>:<work id>" that expires after
// Config.TTL. Result values are stored as JSON, so a value read back is the
// generic JSON form (map[string]any, float64, ...) of what the work
// returned. Errors are stored as their message.
//
//	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store, err := redisstore.New(redisstore.Config{Redis: rdb, Prefix: "reports"})
//	if err != nil {
//		return err
//	}
//	cfg := powerpool.DefaultConfig()
//	cfg.ResultStore = store
//	pool, err := powerpool.NewWithConfig(cfg)
package redisstore

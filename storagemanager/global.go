package storagemanager

import (
	"log"
	"sync"

	"github.com/kasuganosora/coretable/config"
	"github.com/kasuganosora/coretable/merge"
)

var (
	globalOnce sync.Once
	global     *StorageManager
)

// defaultDBPath is where GetGlobalManager roots its StorageManager when
// no caller has threaded one in explicitly.
const defaultDBPath = "./coretable-data"

// GetGlobalManager returns a process-wide StorageManager, constructing
// it on first call from config.DefaultConfig(), mirroring the teacher's
// mysql/mvcc.GetGlobalManager() singleton. Most callers should thread a
// *StorageManager through call context instead; this exists only for
// API parity with code that can't.
func GetGlobalManager() *StorageManager {
	globalOnce.Do(func() {
		cfg := config.DefaultConfig()
		m, err := New(defaultDBPath, merge.NewTableMerger(cfg.Merge.Concurrency, cfg.Storage.PageSize), cfg.WAL.BufferSize, cfg.WAL.Fsync, nil)
		if err != nil {
			log.Fatalf("storagemanager: construct global manager: %v", err)
		}
		global = m
	})
	return global
}

// SPDX-License-Identifier: AGPL-3.0-or-later
package attachment

import (
	"container/list"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/btouchard/mailrelay/pkg/crypto"
)

// Cache is a small in-process LRU tier in front of an optional on-disk
// tier, keyed by the MD5 hex digest carried in an attachment's
// {MD5:<hex>} marker (spec.md §6), grounded on the teacher's
// pkg/storage tiering idea (local provider first, durable tier behind
// it) narrowed to a read cache instead of a storage backend.
type Cache struct {
	mu       sync.Mutex
	maxEntries int
	ll       *list.List
	items    map[string]*list.Element

	diskDir string
}

type cacheEntry struct {
	key  string
	data []byte
}

func NewCache(maxEntries int, diskDir string) *Cache {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	if diskDir != "" {
		_ = os.MkdirAll(diskDir, 0750)
	}
	return &Cache{
		maxEntries: maxEntries,
		ll:         list.New(),
		items:      make(map[string]*list.Element),
		diskDir:    diskDir,
	}
}

func (c *Cache) Get(md5hex string) ([]byte, bool) {
	c.mu.Lock()
	if el, ok := c.items[md5hex]; ok {
		c.ll.MoveToFront(el)
		data := el.Value.(*cacheEntry).data
		c.mu.Unlock()
		return data, true
	}
	c.mu.Unlock()

	if c.diskDir == "" {
		return nil, false
	}
	data, err := os.ReadFile(c.diskPath(md5hex))
	if err != nil {
		return nil, false
	}
	c.putMemory(md5hex, data)
	return data, true
}

func (c *Cache) Put(md5hex string, data []byte) {
	c.putMemory(md5hex, data)
	if c.diskDir != "" {
		_ = c.writeDisk(md5hex, data)
	}
}

func (c *Cache) putMemory(md5hex string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[md5hex]; ok {
		c.ll.MoveToFront(el)
		el.Value.(*cacheEntry).data = data
		return
	}

	el := c.ll.PushFront(&cacheEntry{key: md5hex, data: data})
	c.items[md5hex] = el

	for c.ll.Len() > c.maxEntries {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
}

func (c *Cache) diskPath(md5hex string) string {
	return filepath.Join(c.diskDir, md5hex)
}

// writeDisk writes the cache file atomically: temp file with a random
// nonce suffix, then rename, mirroring the teacher's LocalProvider
// upload (pkg/storage/local.go) write-then-rename pattern.
func (c *Cache) writeDisk(md5hex string, data []byte) error {
	nonce, err := crypto.GenerateNonce()
	if err != nil {
		return fmt.Errorf("generate cache temp suffix: %w", err)
	}
	full := c.diskPath(md5hex)
	temp := full + ".tmp." + nonce

	if err := os.WriteFile(temp, data, 0640); err != nil {
		return fmt.Errorf("write cache temp file: %w", err)
	}
	if err := os.Rename(temp, full); err != nil {
		os.Remove(temp)
		return fmt.Errorf("finalize cache file: %w", err)
	}
	return nil
}

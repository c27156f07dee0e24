package relay

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultDedupTTL 去重缓存的默认保留时间
const DefaultDedupTTL = 30 * time.Second

// Deduplicator 为本节点生成消息ID，并记录已处理的远端消息
type Deduplicator struct {
	nodeID      string
	seq         atomic.Uint64
	cache       sync.Map // key=ID.String(), value=time.Time
	marks       atomic.Uint64
	cleanupMu   sync.Mutex
	lastCleanup time.Time
	ttl         time.Duration
	now         func() time.Time
}

// NewDeduplicator 创建去重器，ttl<=0时使用DefaultDedupTTL
func NewDeduplicator(nodeID string, ttl time.Duration) *Deduplicator {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &Deduplicator{
		nodeID:      nodeID,
		ttl:         ttl,
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

// NextID 生成新的本节点消息ID，序列号从1开始
func (d *Deduplicator) NextID() ID {
	return ID{NodeID: d.nodeID, Seq: d.seq.Add(1)}
}

// Seen 记录id并报告它此前是否已被处理过
func (d *Deduplicator) Seen(id ID) bool {
	now := d.now()
	key := id.String()

	if v, loaded := d.cache.LoadOrStore(key, now); loaded {
		if at, ok := v.(time.Time); ok && now.Sub(at) <= d.ttl {
			return true
		}
		d.cache.Store(key, now)
	}

	// 每记录100条尝试清理一次
	if d.marks.Add(1)%100 == 0 {
		d.cleanExpired(now)
	}
	return false
}

// Len 返回缓存中的条目数
func (d *Deduplicator) Len() int {
	n := 0
	d.cache.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (d *Deduplicator) cleanExpired(now time.Time) {
	if !d.cleanupMu.TryLock() {
		return
	}
	defer d.cleanupMu.Unlock()

	if now.Sub(d.lastCleanup) < d.ttl {
		return
	}
	d.lastCleanup = now

	d.cache.Range(func(key, value any) bool {
		at, ok := value.(time.Time)
		if !ok || now.Sub(at) > d.ttl {
			d.cache.Delete(key)
		}
		return true
	})
}

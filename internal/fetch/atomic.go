package fetch

import "sync/atomic"

// atomicMin implements spec.md §5's "set-status(new) = new iff new <
// current" exit-status tracker, with 0 meaning "no error observed yet".
type atomicMin struct {
	v int64
}

func newAtomicMin() *atomicMin { return &atomicMin{} }

func (a *atomicMin) observe(status int) {
	if status == 0 {
		return
	}
	for {
		cur := atomic.LoadInt64(&a.v)
		if cur != 0 && int64(status) >= cur {
			return
		}
		if atomic.CompareAndSwapInt64(&a.v, cur, int64(status)) {
			return
		}
	}
}

func (a *atomicMin) value() int { return int(atomic.LoadInt64(&a.v)) }

// atomicSum is a plain running total, used for bytes-downloaded quota
// tracking (spec.md §5 "Byte quota — atomic counter").
type atomicSum struct {
	v int64
}

func newAtomicSum() *atomicSum { return &atomicSum{} }

func (a *atomicSum) add(n int64) { atomic.AddInt64(&a.v, n) }
func (a *atomicSum) value() int64 { return atomic.LoadInt64(&a.v) }

package voxel

import (
	"sync"
)

var (
	colPoolLock sync.Mutex
	colPool     = make(map[int]*sync.Pool)
)

// borrowF32 returns a zeroed []float32 of length n.
func borrowF32(n int) []float32 {
	colPoolLock.Lock()
	p, ok := colPool[n]
	colPoolLock.Unlock()
	if ok {
		if buf, ok := p.Get().([]float32); ok && len(buf) == n {
			for i := range buf {
				buf[i] = 0
			}
			return buf
		}
	}
	return make([]float32, n)
}

// returnF32 hands a buffer from borrowF32 back to the pool.
func returnF32(buf []float32) {
	n := len(buf)
	colPoolLock.Lock()
	p, ok := colPool[n]
	if !ok {
		p = &sync.Pool{
			New: func() interface{} { return make([]float32, n) },
		}
		colPool[n] = p
	}
	colPoolLock.Unlock()
	p.Put(buf)
}

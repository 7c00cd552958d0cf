package service

import "sync"

// deviceLocks 按 device_id 串行化凭证签发路径
// 存储事务是一致性的主保障，这把锁只负责关闭 getOrCreate/generate 的并发窗口，
// 避免同一设备的两个并发 check-in 各自生成一份凭证
type deviceLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newDeviceLocks() *deviceLocks {
	return &deviceLocks{locks: map[string]*sync.Mutex{}}
}

func (l *deviceLocks) lock(deviceID string) func() {
	l.mu.Lock()
	m, ok := l.locks[deviceID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[deviceID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

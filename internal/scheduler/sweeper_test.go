package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"wisefido-ota/internal/domain"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type countingSweep struct {
	mu    sync.Mutex
	calls int
}

func (c *countingSweep) SweepExpired(_ context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return 1, nil
}

func (c *countingSweep) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// 其余接口方法在本测试中不会被调用
func (c *countingSweep) Generate(context.Context, string, time.Duration) (*domain.ActivationCode, error) {
	panic("not used")
}
func (c *countingSweep) Validate(context.Context, string) (*domain.ActivationCode, error) {
	panic("not used")
}
func (c *countingSweep) Redeem(context.Context, string, string) (bool, error) { panic("not used") }
func (c *countingSweep) CurrentValidFor(context.Context, string) (*domain.ActivationCode, error) {
	panic("not used")
}

type countingTokenSweep struct {
	countingSweep
}

func (c *countingTokenSweep) Generate(context.Context, string, time.Duration) (*domain.AccessToken, error) {
	panic("not used")
}
func (c *countingTokenSweep) Validate(context.Context, string) (*domain.AccessToken, error) {
	panic("not used")
}
func (c *countingTokenSweep) Revoke(context.Context, string) error    { panic("not used") }
func (c *countingTokenSweep) RevokeAll(context.Context, string) error { panic("not used") }
func (c *countingTokenSweep) GetValidForDevice(context.Context, string) (*domain.AccessToken, error) {
	panic("not used")
}
func (c *countingTokenSweep) GetOrCreate(context.Context, string, time.Duration) (string, error) {
	panic("not used")
}

func TestSweeper_RunsBothSweepsUntilCancelled(t *testing.T) {
	activation := &countingSweep{}
	tokens := &countingTokenSweep{}
	sweeper := NewSweeper(activation, tokens, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	// 等够几个tick
	time.Sleep(60 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}

	assert.Greater(t, activation.count(), 0)
	assert.Greater(t, tokens.count(), 0)
}

func TestNewSweeper_DefaultsInterval(t *testing.T) {
	s := NewSweeper(&countingSweep{}, &countingTokenSweep{}, 0, zap.NewNop())
	assert.Equal(t, time.Hour, s.interval)
}

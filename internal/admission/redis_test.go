package admission_test

import (
	"context"
	"sync"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/studyowl/creditgate/internal/admission"
	"github.com/stretchr/testify/assert"
)

// scriptRunner mimics the counter script server-side: INCR plus a window
// TTL pinned on first touch. The store only talks to Redis through the
// redis.Scripter interface, so the contract can be checked without a
// live server.
type scriptRunner struct {
	mu     sync.Mutex
	counts map[string]int64
	resets map[string]time.Time
}

func newScriptRunner() *scriptRunner {
	return &scriptRunner{
		counts: make(map[string]int64),
		resets: make(map[string]time.Time),
	}
}

func (f *scriptRunner) run(keys []string, args []interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := keys[0]
	windowMillis := args[0].(int64)
	now := time.Now()

	if reset, ok := f.resets[key]; !ok || now.After(reset) {
		f.counts[key] = 0
		f.resets[key] = now.Add(time.Duration(windowMillis) * time.Millisecond)
	}
	f.counts[key]++

	ttl := f.resets[key].Sub(now).Milliseconds()
	return redis.NewCmdResult([]interface{}{f.counts[key], ttl}, nil)
}

func (f *scriptRunner) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return f.run(keys, args)
}

func (f *scriptRunner) EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	return f.run(keys, args)
}

func (f *scriptRunner) EvalRO(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return f.run(keys, args)
}

func (f *scriptRunner) EvalShaRO(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	return f.run(keys, args)
}

func (f *scriptRunner) ScriptExists(ctx context.Context, hashes ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult([]bool{true}, nil)
}

func (f *scriptRunner) ScriptLoad(ctx context.Context, script string) *redis.StringCmd {
	return redis.NewStringResult("sha", nil)
}

func TestRedisStoreEnforcesWindow(t *testing.T) {
	ctx := context.Background()
	store := admission.NewRedisStore(newScriptRunner())

	first, err := store.CheckAndConsume(ctx, "user-1", 2, time.Hour)
	assert.NoError(t, err)
	assert.True(t, first.Allowed)
	assert.Equal(t, 1, first.Remaining)

	second, err := store.CheckAndConsume(ctx, "user-1", 2, time.Hour)
	assert.NoError(t, err)
	assert.True(t, second.Allowed)
	assert.Equal(t, 0, second.Remaining)

	third, err := store.CheckAndConsume(ctx, "user-1", 2, time.Hour)
	assert.NoError(t, err)
	assert.False(t, third.Allowed)
	assert.Equal(t, 0, third.Remaining)
	assert.WithinDuration(t, time.Now().Add(time.Hour), third.ResetAt, 5*time.Second)
}

func TestRedisStoreKeysArePerIdentifier(t *testing.T) {
	ctx := context.Background()
	runner := newScriptRunner()
	store := admission.NewRedisStore(runner)

	first, err := store.CheckAndConsume(ctx, "user-1", 1, time.Hour)
	assert.NoError(t, err)
	assert.True(t, first.Allowed)

	other, err := store.CheckAndConsume(ctx, "user-2", 1, time.Hour)
	assert.NoError(t, err)
	assert.True(t, other.Allowed)

	runner.mu.Lock()
	_, ok := runner.counts["admission:user-1"]
	runner.mu.Unlock()
	assert.True(t, ok, "store should namespace keys under admission:")
}

func TestRedisStoreRejectsEmptyIdentifier(t *testing.T) {
	store := admission.NewRedisStore(newScriptRunner())

	_, err := store.CheckAndConsume(context.Background(), "", 1, time.Hour)
	assert.Error(t, err)
}

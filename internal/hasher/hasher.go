package hasher

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/dshills/nexus/pkg/types"
)

// Digest is the hex form of a 64-bit xxhash sum
type Digest string

// Hasher produces change-detection fingerprints of file content.
// It is not a security primitive.
//
// Initialization is a one-shot asynchronous step. Sum and Verify are usable
// only after it completes; SumAsync initializes lazily.
type Hasher struct {
	seed  uint64
	ready atomic.Bool
	once  sync.Once
	done  chan struct{}
	err   error
	pool  sync.Pool
	initf func(ctx context.Context) error
}

// Option configures a Hasher
type Option func(*Hasher)

// WithSeed mixes a seed into every digest. Stores written with one seed are
// incompatible with another.
func WithSeed(seed uint64) Option {
	return func(h *Hasher) {
		h.seed = seed
	}
}

// withInitFunc replaces the initialization step (tests only)
func withInitFunc(f func(ctx context.Context) error) Option {
	return func(h *Hasher) {
		h.initf = f
	}
}

// New creates an uninitialized Hasher
func New(opts ...Option) *Hasher {
	h := &Hasher{
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.pool.New = func() any {
		return xxhash.NewWithSeed(h.seed)
	}
	return h
}

// Init starts initialization once. The returned channel receives the result
// and is closed; later calls observe the same result.
func (h *Hasher) Init(ctx context.Context) <-chan error {
	h.once.Do(func() {
		go func() {
			defer close(h.done)
			h.err = h.initialize(ctx)
			if h.err == nil {
				h.ready.Store(true)
			}
		}()
	})

	out := make(chan error, 1)
	go func() {
		select {
		case <-h.done:
			out <- h.err
		case <-ctx.Done():
			out <- ctx.Err()
		}
		close(out)
	}()
	return out
}

// initialize warms the digest pool and self-checks the implementation
func (h *Hasher) initialize(ctx context.Context) error {
	if h.initf != nil {
		if err := h.initf(ctx); err != nil {
			return fmt.Errorf("%w: %w", types.ErrHashNotInitialized, err)
		}
	}

	d := h.pool.Get().(*xxhash.Digest)
	defer h.pool.Put(d)
	d.ResetWithSeed(h.seed)
	_, _ = d.WriteString("nexus")
	if d.Sum64() == 0 {
		return fmt.Errorf("%w: digest self-check failed", types.ErrHashNotInitialized)
	}
	return nil
}

// Ready reports whether synchronous use is allowed
func (h *Hasher) Ready() bool {
	return h.ready.Load()
}

// Sum computes the digest of b. It fails with ErrHashNotInitialized before
// Init has completed.
func (h *Hasher) Sum(b []byte) (Digest, error) {
	if !h.ready.Load() {
		return "", types.ErrHashNotInitialized
	}
	return h.sum(b), nil
}

// MustSum is Sum for callers that guarantee initialization. It panics
// otherwise.
func (h *Hasher) MustSum(b []byte) Digest {
	d, err := h.Sum(b)
	if err != nil {
		panic(err)
	}
	return d
}

// SumAsync initializes the hasher if needed, then hashes b
func (h *Hasher) SumAsync(ctx context.Context, b []byte) (Digest, error) {
	if !h.ready.Load() {
		if err := <-h.Init(ctx); err != nil {
			return "", err
		}
	}
	return h.sum(b), nil
}

// Verify recomputes the digest of b and compares it to want
func (h *Hasher) Verify(b []byte, want Digest) (bool, error) {
	got, err := h.Sum(b)
	if err != nil {
		return false, err
	}
	return got == want, nil
}

func (h *Hasher) sum(b []byte) Digest {
	d := h.pool.Get().(*xxhash.Digest)
	defer h.pool.Put(d)
	d.ResetWithSeed(h.seed)
	_, _ = d.Write(b)

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], d.Sum64())
	return Digest(hex.EncodeToString(buf[:]))
}

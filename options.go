package termpool

import "github.com/machdmach/termpool/internal/pool"

// defaultHashSeed seeds the term-table hash. Overridden via WithHashSeed,
// e.g. to randomize per process against adversarial term sets.
const defaultHashSeed uint32 = 0x9e3779b1

// Option is a functional option for configuring a TermsHash.
type Option func(*config)

type config struct {
	bytesUsed     pool.Counter
	seed          uint32
	consumers     []Consumer
	chained       Consumer
	recycleBlocks int
}

func defaultConfig() *config {
	return &config{
		// Atomic by default: one dispatcher per indexing worker may report
		// into a counter shared across workers.
		bytesUsed: pool.NewAtomicCounter(),
		seed:      defaultHashSeed,
	}
}

// WithBytesUsed makes the dispatcher's block pools report into c. The
// enclosing system reads the counter to decide when to flush; when it is
// shared across goroutines it must be a pool.NewAtomicCounter.
func WithBytesUsed(c pool.Counter) Option {
	return func(cfg *config) {
		cfg.bytesUsed = c
	}
}

// WithHashSeed sets the term-table hash seed.
func WithHashSeed(seed uint32) Option {
	return func(cfg *config) {
		cfg.seed = seed
	}
}

// WithConsumer registers an additional consumer on the dispatcher. All
// registered consumers share each field's term table and ids; each writes
// its own byte streams.
func WithConsumer(c Consumer) Option {
	return func(cfg *config) {
		cfg.consumers = append(cfg.consumers, c)
	}
}

// WithChain attaches a secondary dispatcher driven by c. The secondary
// shares the primary's byte pool, so term bytes are stored once, but keeps
// its own int pool and term tables: its consumer sees its own term ids over
// the same term text.
func WithChain(c Consumer) Option {
	return func(cfg *config) {
		cfg.chained = c
	}
}

// WithBlockRecycling makes the pools recycle up to maxBlocks freed blocks
// per pool across flush cycles instead of releasing them to the garbage
// collector.
func WithBlockRecycling(maxBlocks int) Option {
	return func(cfg *config) {
		cfg.recycleBlocks = maxBlocks
	}
}

package epimetheus

import "github.com/SebastianDall/epimetheus/bgzf"

type config struct {
	force   bool
	keep    bool
	level   int
	workers int
}

// Option adjusts the behavior of Compress and Query.
type Option func(*config)

func newConfig(opts []Option) config {
	cfg := config{
		level:   bgzf.DefaultCompressionLevel,
		workers: 1,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithForce lets Compress overwrite an existing container.
func WithForce() Option {
	return func(c *config) { c.force = true }
}

// WithKeep stops Compress from deleting the input file afterwards.
func WithKeep() Option {
	return func(c *config) { c.keep = true }
}

// WithCompressionLevel sets the per-block deflate level.
func WithCompressionLevel(level int) Option {
	return func(c *config) { c.level = level }
}

// WithWorkers runs Query's per-contig lookups on up to n goroutines.
// Contigs are the only safe parallel axis: each worker holds its own read
// handle over the immutable container.
func WithWorkers(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.workers = n
		}
	}
}

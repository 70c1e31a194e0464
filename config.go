// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package stateos

import (
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Ticks is the kernel's free-running tick counter type. Arithmetic on
// Ticks wraps modulo 1<<32 the same way the original's cnt_t does;
// comparisons that need wraparound-correct ordering go through
// tickBefore rather than the built-in < operator.
type Ticks uint32

// Immediate is the zero delay: any blocking call given this delay
// returns ETimeout without blocking.
const Immediate Ticks = 0

// Infinite marks a timer or wait with no deadline.
const Infinite Ticks = 1<<32 - 1

// Config holds the compile-time parameters spec.md's #define block
// becomes in Go: there is no preprocessor, so these are resolved once,
// at Kernel construction, via functional Options.
type Config struct {
	// StackSize is advisory in this port (Go tasks run on goroutine
	// stacks, not user-supplied arenas) but is retained and validated
	// because user code may size its own scratch buffers against it.
	StackSize int
	// IdleStackSize is the same, for the IDLE task.
	IdleStackSize int
	// MainPriority is the effective priority of the pseudo-task that
	// constructs the Kernel, before Kernel.Run is ever called.
	MainPriority int
	// Frequency is the tick rate, in ticks per second. Used only to
	// convert the round-robin time slice (Robin) into a tick count;
	// it does not drive a real timer on its own.
	Frequency int
	// Robin sets the round-robin time slice for tasks of equal
	// priority: the slice is Frequency/Robin ticks (at least 1). Zero
	// disables round robin: equal-priority tasks run until they block
	// or yield.
	Robin int
	// HWTimerSize, when non-zero, selects the tickless timer strategy
	// (Port.TmrStart/TmrStop/TmrForce drive timer expiry) instead of a
	// periodic-tick strategy. Zero means the periodic-tick strategy is
	// used and time-slice accounting is enabled.
	HWTimerSize int
}

// defaultConfig matches the distilled spec's typical single-MCU profile:
// periodic tick, round robin enabled, priority 0 reserved for IDLE.
func defaultConfig() Config {
	return Config{
		StackSize:     4096,
		IdleStackSize: 1024,
		MainPriority:  1,
		Frequency:     1000,
		Robin:         4,
		HWTimerSize:   0,
	}
}

// validate reports the first configuration problem found, wrapped in
// ErrInvalidConfig, or nil.
func (c Config) validate() error {
	switch {
	case c.StackSize <= 0:
		return configError("StackSize must be positive")
	case c.IdleStackSize <= 0:
		return configError("IdleStackSize must be positive")
	case c.MainPriority <= 0:
		return configError("MainPriority must be positive (priority 0 is reserved for IDLE)")
	case c.Frequency <= 0:
		return configError("Frequency must be positive")
	case c.Robin < 0:
		return configError("Robin must not be negative")
	case c.HWTimerSize < 0:
		return configError("HWTimerSize must not be negative")
	default:
		return nil
	}
}

// sliceTicks is the round-robin time slice expressed in ticks.
func (c Config) sliceTicks() int {
	if c.Robin <= 0 {
		return 0
	}
	slice := c.Frequency / c.Robin
	if slice <= 0 {
		slice = 1
	}
	return slice
}

// ticklessEnabled reports whether the tickless (HW timer) strategy is in
// effect, per spec §4.2 ("selected by port capability").
func (c Config) ticklessEnabled() bool {
	return c.HWTimerSize > 0
}

// Option configures a Kernel at construction, mirroring the teacher's
// own functional-option shape (loopOptionImpl / resolveLoopOptions)
// generalized from Loop to Kernel and from a fixed option set to the
// compile-time parameters of spec.md §6.
type Option interface {
	apply(*kernelSettings) error
}

// kernelSettings is the mutable target Options are applied to before a
// Kernel is constructed.
type kernelSettings struct {
	config Config
	logger *logiface.Logger[*stumpy.Event]
}

type optionFunc func(*kernelSettings) error

func (f optionFunc) apply(s *kernelSettings) error { return f(s) }

// WithConfig overrides the default Config wholesale.
func WithConfig(cfg Config) Option {
	return optionFunc(func(s *kernelSettings) error {
		s.config = cfg
		return nil
	})
}

// WithFrequency sets Config.Frequency.
func WithFrequency(hz int) Option {
	return optionFunc(func(s *kernelSettings) error {
		s.config.Frequency = hz
		return nil
	})
}

// WithRobin sets Config.Robin. Zero disables round robin.
func WithRobin(ticks int) Option {
	return optionFunc(func(s *kernelSettings) error {
		s.config.Robin = ticks
		return nil
	})
}

// WithHWTimer selects the tickless timer strategy with the given
// hardware comparator width, in bits. Zero selects the periodic-tick
// strategy.
func WithHWTimer(bits int) Option {
	return optionFunc(func(s *kernelSettings) error {
		s.config.HWTimerSize = bits
		return nil
	})
}

// WithLogger attaches a structured logger. When omitted, Kernel logs
// nowhere; logging never gates kernel behavior either way.
func WithLogger(logger *logiface.Logger[*stumpy.Event]) Option {
	return optionFunc(func(s *kernelSettings) error {
		s.logger = logger
		return nil
	})
}

// resolveOptions applies opts over the default settings, skipping nils,
// exactly as the teacher's resolveLoopOptions does.
func resolveOptions(opts []Option) (*kernelSettings, error) {
	s := &kernelSettings{config: defaultConfig()}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.apply(s); err != nil {
			return nil, err
		}
	}
	if err := s.config.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

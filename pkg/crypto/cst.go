// Package crypto implements conditional self-tests for the random source.
//
// The tests run during normal operation rather than only at startup, and
// verify that the system random number generator keeps producing usable
// output:
//
//  1. Health Check: verifies that the RNG produces non-zero, non-repeating
//     output with byte-level variation.
//
//  2. Continuous Test: compares each sampled output to the previous one
//     and fails on repetition, catching a stuck entropy source.
//
// A failed check is a hard error. Key material must never be derived from
// a generator that has failed a check.
package crypto

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"

	qerrors "github.com/sara-star-quant/qkd-go/internal/errors"
)

// RNGCheckConfig configures random source self-test behavior.
type RNGCheckConfig struct {
	// EnableHealthCheck enables periodic full health checks on RNG output.
	EnableHealthCheck bool

	// EnableContinuousTest compares consecutive sampled outputs.
	EnableContinuousTest bool

	// HealthCheckInterval is how often to run full RNG health checks
	// (number of checked reads between checks).
	HealthCheckInterval uint64
}

// DefaultRNGCheckConfig returns the default self-test configuration.
// Both checks are on; the interval keeps steady-state cost negligible.
func DefaultRNGCheckConfig() RNGCheckConfig {
	return RNGCheckConfig{
		EnableHealthCheck:    true,
		EnableContinuousTest: true,
		HealthCheckInterval:  1000,
	}
}

// rngCheckState holds global self-test state
var (
	rngConfig     RNGCheckConfig
	rngConfigOnce sync.Once
	rngCallCount  atomic.Uint64
	lastRNGOutput []byte
	lastRNGMutex  sync.Mutex
)

// InitRNGChecks initializes the self-tests with the given configuration.
// Must be called before any random reads if custom configuration is needed.
// If not called, the default configuration is used.
func InitRNGChecks(config RNGCheckConfig) {
	rngConfigOnce.Do(func() {
		rngConfig = config
	})
}

// getRNGConfig returns the self-test configuration, initializing with
// defaults if needed.
func getRNGConfig() RNGCheckConfig {
	rngConfigOnce.Do(func() {
		rngConfig = DefaultRNGCheckConfig()
	})
	return rngConfig
}

// CheckResult contains the result of one self-test.
type CheckResult struct {
	Passed bool
	Error  error
}

// RNGHealthCheck performs a health check on the random number generator.
// It verifies that:
//  1. The RNG produces non-zero output
//  2. The RNG produces non-repeating output
//  3. The RNG output has byte-level variation
func RNGHealthCheck() *CheckResult {
	sample1 := make([]byte, 32)
	sample2 := make([]byte, 32)

	if err := SecureRandom(sample1); err != nil {
		return &CheckResult{Passed: false, Error: fmt.Errorf("RNG read 1 failed: %w", err)}
	}

	if err := SecureRandom(sample2); err != nil {
		return &CheckResult{Passed: false, Error: fmt.Errorf("RNG read 2 failed: %w", err)}
	}

	// Check 1: Neither sample should be all zeros
	allZeros1 := true
	allZeros2 := true
	for i := 0; i < 32; i++ {
		if sample1[i] != 0 {
			allZeros1 = false
		}
		if sample2[i] != 0 {
			allZeros2 = false
		}
	}
	if allZeros1 {
		return &CheckResult{Passed: false, Error: fmt.Errorf("%w: all-zero sample 1", qerrors.ErrRandomFailure)}
	}
	if allZeros2 {
		return &CheckResult{Passed: false, Error: fmt.Errorf("%w: all-zero sample 2", qerrors.ErrRandomFailure)}
	}

	// Check 2: Samples should be different
	if bytes.Equal(sample1, sample2) {
		return &CheckResult{Passed: false, Error: fmt.Errorf("%w: identical consecutive samples", qerrors.ErrRandomFailure)}
	}

	// Check 3: Neither sample should be all the same byte
	allSame1 := true
	allSame2 := true
	for i := 1; i < 32; i++ {
		if sample1[i] != sample1[0] {
			allSame1 = false
		}
		if sample2[i] != sample2[0] {
			allSame2 = false
		}
	}
	if allSame1 {
		return &CheckResult{Passed: false, Error: fmt.Errorf("%w: sample 1 has no variation", qerrors.ErrRandomFailure)}
	}
	if allSame2 {
		return &CheckResult{Passed: false, Error: fmt.Errorf("%w: sample 2 has no variation", qerrors.ErrRandomFailure)}
	}

	return &CheckResult{Passed: true}
}

// ContinuousRNGTest compares each RNG output to the previous output and
// fails if they match. The first call only records a baseline.
func ContinuousRNGTest(output []byte) *CheckResult {
	lastRNGMutex.Lock()
	defer lastRNGMutex.Unlock()

	// First call - just store the output
	if lastRNGOutput == nil {
		lastRNGOutput = make([]byte, len(output))
		copy(lastRNGOutput, output)
		return &CheckResult{Passed: true}
	}

	// Compare with previous output (if same length)
	if len(output) == len(lastRNGOutput) && bytes.Equal(output, lastRNGOutput) {
		return &CheckResult{Passed: false, Error: fmt.Errorf("%w: repeated output", qerrors.ErrRandomFailure)}
	}

	// Store current output for next comparison
	if len(lastRNGOutput) != len(output) {
		lastRNGOutput = make([]byte, len(output))
	}
	copy(lastRNGOutput, output)

	return &CheckResult{Passed: true}
}

// runRNGHealthCheck runs periodic RNG health checks if enabled.
func runRNGHealthCheck() error {
	config := getRNGConfig()
	if !config.EnableHealthCheck {
		return nil
	}

	count := rngCallCount.Add(1)

	if count%config.HealthCheckInterval == 0 {
		result := RNGHealthCheck()
		if !result.Passed {
			return result.Error
		}
	}

	return nil
}

// SecureRandomChecked reads cryptographically secure random bytes and runs
// the enabled self-tests over the output.
func SecureRandomChecked(b []byte) error {
	if err := SecureRandom(b); err != nil {
		return err
	}

	if getRNGConfig().EnableContinuousTest {
		result := ContinuousRNGTest(b)
		if !result.Passed {
			return result.Error
		}
	}

	return runRNGHealthCheck()
}

// RNGChecksEnabled returns true if any random source self-test is enabled.
func RNGChecksEnabled() bool {
	config := getRNGConfig()
	return config.EnableHealthCheck || config.EnableContinuousTest
}

// GetRNGCheckConfig returns the current self-test configuration.
func GetRNGCheckConfig() RNGCheckConfig {
	return getRNGConfig()
}

package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sara-star-quant/qkd-go/internal/config"
	"github.com/sara-star-quant/qkd-go/internal/constants"
	"github.com/sara-star-quant/qkd-go/pkg/session"
)

func runBench(handshakes int, throughputTest bool, sizeStr, durationStr, cipherName string) {
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║      QKD-Go Benchmark                                     ║")
	fmt.Println("║      BB84 handshakes and channel throughput               ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	if handshakes == 0 && !throughputTest {
		fmt.Println("No benchmarks specified. Use --handshakes or --throughput")
		fmt.Println("Run 'qkd-chat bench --help' for usage")
		os.Exit(1)
	}

	suite, err := (config.SessionConfig{CipherSuite: cipherName}).Suite()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if handshakes > 0 {
		benchHandshakes(handshakes, suite)
		fmt.Println()
	}

	if throughputTest {
		size := parseSize(sizeStr)
		duration := parseDuration(durationStr)
		benchThroughput(size, duration, suite)
	}
}

func benchHandshakes(count int, suite constants.CipherSuite) {
	fmt.Printf("Benchmarking Handshakes (%d iterations)\n", count)
	fmt.Println(strings.Repeat("─", 60))
	fmt.Printf("Pulses per round: %d, cipher: %s\n\n", constants.KeyLength, suite)

	ra := benchRegistry("alice", suite)
	defer ra.Close()
	rb := benchRegistry("bob", suite)
	defer rb.Close()
	wire := &demoWire{alice: ra, bob: rb}

	durations := make([]time.Duration, count)
	failures := 0

	startTime := time.Now()
	for i := 0; i < count; i++ {
		sess, err := ra.Create("bob")
		if err != nil {
			failures++
			continue
		}

		handshakeStart := time.Now()
		res, err := sess.Start()
		if err != nil {
			failures++
		} else if err := wire.pump(res.Outbound...); err != nil || sess.State() != session.StateActive {
			failures++
		} else {
			durations[i] = time.Since(handshakeStart)
		}

		ra.Remove("bob")
		rb.Remove("alice")

		// Progress indicator every 10% (or every iteration if count < 10)
		step := count / 10
		if step == 0 {
			step = 1
		}
		if (i+1)%step == 0 || i == count-1 {
			fmt.Printf("Progress: %d/%d (%.0f%%)\r", i+1, count, float64(i+1)/float64(count)*100)
		}
	}
	fmt.Println()

	totalTime := time.Since(startTime)
	printHandshakeResults(count, count-failures, failures, totalTime, durations)
}

func printHandshakeResults(total, successful, failed int, totalTime time.Duration, durations []time.Duration) {
	if failed == total {
		fmt.Fprintf(os.Stderr, "All handshakes failed\n")
		os.Exit(1)
	}

	var sum, min, max time.Duration
	min = time.Hour // Initialize to large value

	for _, d := range durations {
		if d == 0 {
			continue
		}
		sum += d
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}

	avg := sum / time.Duration(successful)

	fmt.Println("\nResults:")
	fmt.Printf("  Total handshakes: %d\n", total)
	fmt.Printf("  Successful: %d\n", successful)
	fmt.Printf("  Failed: %d\n", failed)
	fmt.Printf("  Total time: %v\n", totalTime)
	fmt.Println()
	fmt.Println("Handshake Performance:")
	fmt.Printf("  Average: %v\n", avg)
	fmt.Printf("  Minimum: %v\n", min)
	fmt.Printf("  Maximum: %v\n", max)
	fmt.Printf("  Throughput: %.2f handshakes/sec\n", float64(successful)/totalTime.Seconds())
	fmt.Println()

	printHandshakeRating(avg)
}

func printHandshakeRating(avg time.Duration) {
	if avg < 2*time.Millisecond {
		fmt.Println("✓ Performance: Excellent (< 2ms avg)")
	} else if avg < 5*time.Millisecond {
		fmt.Println("✓ Performance: Good (< 5ms avg)")
	} else if avg < 10*time.Millisecond {
		fmt.Println("⚠ Performance: Acceptable (< 10ms avg)")
	} else {
		fmt.Println("⚠ Performance: Slow (> 10ms avg)")
	}
}

func benchThroughput(totalBytes int64, duration time.Duration, suite constants.CipherSuite) {
	fmt.Printf("Benchmarking Channel Throughput\n")
	fmt.Println(strings.Repeat("─", 60))
	fmt.Printf("Target: %s over at most %v\n", formatSize(totalBytes), duration)
	fmt.Printf("Cipher: %s\n\n", suite)

	ra := benchRegistry("alice", suite)
	defer ra.Close()
	rb := benchRegistry("bob", suite)
	defer rb.Close()
	wire := &demoWire{alice: ra, bob: rb}

	sess, err := ra.Create("bob")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	res, err := sess.Start()
	if err == nil {
		err = wire.pump(res.Outbound...)
	}
	if err != nil || sess.State() != session.StateActive {
		fmt.Fprintf(os.Stderr, "Error: channel setup failed: %v\n", err)
		os.Exit(1)
	}

	// Chunk size stays well under the plaintext cap.
	chunk := make([]byte, 8192)
	for i := range chunk {
		chunk[i] = byte(i % 256)
	}

	var totalSent, messages int64
	sendStart := time.Now()
	lastProgress := sendStart

	for totalSent < totalBytes && time.Since(sendStart) < duration {
		env, err := ra.Encrypt("bob", chunk)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Encrypt error: %v\n", err)
			break
		}
		out, err := rb.Dispatch(env)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Decrypt error: %v\n", err)
			break
		}
		if out.Plaintext == nil {
			fmt.Fprintln(os.Stderr, "Error: delivery produced no plaintext")
			break
		}

		totalSent += int64(len(chunk))
		messages++

		// Progress update every second
		if time.Since(lastProgress) >= time.Second {
			elapsed := time.Since(sendStart)
			mbps := float64(totalSent) / elapsed.Seconds() / 1024 / 1024
			fmt.Printf("Progress: %s / %s (%.1f MB/s)\r",
				formatSize(totalSent), formatSize(totalBytes), mbps)
			lastProgress = time.Now()
		}
	}
	elapsed := time.Since(sendStart)

	printThroughputResults(totalSent, messages, elapsed)
}

func printThroughputResults(totalSent, messages int64, elapsed time.Duration) {
	fmt.Println()
	fmt.Println("\nResults:")
	fmt.Printf("  Plaintext transferred: %s\n", formatSize(totalSent))
	fmt.Printf("  Messages: %d\n", messages)
	fmt.Printf("  Duration: %v\n", elapsed)
	fmt.Println()

	if elapsed <= 0 || totalSent == 0 {
		fmt.Println("⚠ Nothing transferred")
		return
	}

	mbps := float64(totalSent) / elapsed.Seconds() / 1024 / 1024
	fmt.Printf("Throughput: %.2f MB/s (%.2f Mbps, %.0f msg/s)\n",
		mbps, mbps*8, float64(messages)/elapsed.Seconds())
	fmt.Println()
	fmt.Println("Each message covers the full path: AEAD seal, envelope encode,")
	fmt.Println("envelope decode, counter check, AEAD open.")

	printThroughputRating(mbps)
}

func printThroughputRating(avgMBps float64) {
	fmt.Println()
	if avgMBps > 200 {
		fmt.Println("✓ Performance: Excellent (> 200 MB/s)")
	} else if avgMBps > 75 {
		fmt.Println("✓ Performance: Good (> 75 MB/s)")
	} else if avgMBps > 25 {
		fmt.Println("✓ Performance: Acceptable (> 25 MB/s)")
	} else {
		fmt.Println("⚠ Performance: May need optimization (< 25 MB/s)")
	}
}

func benchRegistry(id string, suite constants.CipherSuite) *session.Registry {
	reg, err := session.NewRegistry(session.RegistryConfig{LocalID: id, Suite: suite})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return reg
}

func parseSize(s string) int64 {
	// Simple parser for sizes like "100MB", "1GB"
	var value int64
	var unit string
	_, _ = fmt.Sscanf(s, "%d%s", &value, &unit)

	switch unit {
	case "KB", "kb", "K", "k":
		return value * 1024
	case "MB", "mb", "M", "m":
		return value * 1024 * 1024
	case "GB", "gb", "G", "g":
		return value * 1024 * 1024 * 1024
	default:
		return value
	}
}

func parseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid duration: %s\n", s)
		os.Exit(1)
	}
	return d
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	units := []string{"KB", "MB", "GB", "TB"}
	return fmt.Sprintf("%.2f %s", float64(bytes)/float64(div), units[exp])
}

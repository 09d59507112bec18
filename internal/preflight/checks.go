package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"golang.org/x/sys/unix"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckKafka dials each broker and asks for cluster metadata. One reachable
// broker is enough to pass.
func CheckKafka(ctx context.Context, brokers []string) Result {
	const name = "Kafka"
	if len(brokers) == 0 {
		return Result{Name: name, Detail: "no brokers configured"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dialer := &kafka.Dialer{Timeout: 5 * time.Second}
	var failures []string
	for _, broker := range brokers {
		conn, err := dialer.DialContext(checkCtx, "tcp", broker)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %s", broker, summarizeDialError(err)))
			continue
		}
		known, err := conn.Brokers()
		conn.Close()
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: metadata: %v", broker, err))
			continue
		}
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s reachable (%d brokers)", broker, len(known))}
	}
	return Result{Name: name, Detail: strings.Join(failures, "; ")}
}

func summarizeDialError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timed out"
	}
	return err.Error()
}

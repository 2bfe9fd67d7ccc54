package health

import (
	"context"
	"fmt"
	"time"

	"yuzu/interview/internal/store"
)

type CheckResult struct {
	Name    string        `json:"name"`
	OK      bool          `json:"ok"`
	Latency time.Duration `json:"latency_ms"`
	Error   string        `json:"error,omitempty"`
}

type HealthStatus struct {
	OK        bool          `json:"ok"`
	Checks    []CheckResult `json:"checks"`
	CheckedAt time.Time     `json:"checked_at"`
}

func (h HealthStatus) String() string {
	status := "OK"
	if !h.OK {
		status = "FAIL"
	}
	s := fmt.Sprintf("Health: %s\n", status)
	for _, c := range h.Checks {
		mark := "✓"
		if !c.OK {
			mark = "✗"
		}
		s += fmt.Sprintf("  %s %s (%dms)", mark, c.Name, c.Latency.Milliseconds())
		if c.Error != "" {
			s += fmt.Sprintf(" - %s", c.Error)
		}
		s += "\n"
	}
	return s
}

// Check is one readiness check.
type Check func(ctx context.Context) CheckResult

// CheckAll runs all checks and returns the combined status.
func CheckAll(ctx context.Context, checks ...Check) HealthStatus {
	results := make([]CheckResult, 0, len(checks))
	allOK := true
	for _, check := range checks {
		r := check(ctx)
		if !r.OK {
			allOK = false
		}
		results = append(results, r)
	}
	return HealthStatus{
		OK:        allOK,
		Checks:    results,
		CheckedAt: time.Now().UTC(),
	}
}

// StoreCheck reports whether the session store is available.
func StoreCheck(st *store.Store) Check {
	return func(ctx context.Context) CheckResult {
		start := time.Now()
		result := CheckResult{Name: "store"}
		if st == nil {
			result.Error = "store not configured"
		} else {
			result.OK = true
		}
		result.Latency = time.Since(start)
		return result
	}
}

// Pinger reports whether a remote dependency answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LLMCheck verifies the reply model is reachable. A nil pinger is a local
// model and is always ready.
func LLMCheck(name string, p Pinger) Check {
	return func(ctx context.Context) CheckResult {
		start := time.Now()
		result := CheckResult{Name: "llm:" + name}
		if p == nil {
			result.OK = true
		} else if err := p.Ping(ctx); err != nil {
			result.Error = err.Error()
		} else {
			result.OK = true
		}
		result.Latency = time.Since(start)
		return result
	}
}

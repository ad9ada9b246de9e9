package harness

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/phasetrace/internal/engine"
	"github.com/roach88/phasetrace/internal/moment"
)

// Result is the outcome of one scenario.
type Result struct {
	// Pass is true when the scan matched expect_error and every
	// assertion held.
	Pass bool

	Start   time.Time
	Moments []moment.Moment

	// Scan is nil when the scan failed.
	Scan *engine.Result

	// ScanErr is the scanner error, if any.
	ScanErr error

	Errors []string
}

func (r *Result) addError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}

// Run scans the scenario's timeline with a fresh scanner and evaluates
// its assertions. The returned error covers malformed scenarios only;
// scan failures and failed assertions are reported in the Result.
func Run(s *Scenario) (*Result, error) {
	start, err := s.StartTime()
	if err != nil {
		return nil, err
	}
	moments, err := s.Timeline()
	if err != nil {
		return nil, err
	}

	res := &Result{Pass: true, Start: start, Moments: moments}
	res.Scan, res.ScanErr = engine.Scan(moments,
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	if s.ExpectError != "" {
		checkExpectedError(res, s.ExpectError)
		return res, nil
	}
	if res.ScanErr != nil {
		res.addError(fmt.Sprintf("scan failed: %v", res.ScanErr))
		return res, nil
	}

	for _, msg := range EvaluateAssertions(res.Scan, start, s.Assertions) {
		res.addError(msg)
	}
	return res, nil
}

func checkExpectedError(res *Result, code string) {
	if res.ScanErr == nil {
		res.addError(fmt.Sprintf("expected scan error %s, scan succeeded with %d phases", code, len(res.Scan.Phases)))
		return
	}
	var rerr *engine.RuntimeError
	if !errors.As(res.ScanErr, &rerr) {
		res.addError(fmt.Sprintf("expected scan error %s, got %v", code, res.ScanErr))
		return
	}
	if string(rerr.Code) != code {
		res.addError(fmt.Sprintf("expected scan error %s, got %s", code, rerr.Code))
	}
}

// Package executor implements the engine side of the subprocess
// invocation contract of spec.md §6. The subprocess-based
// language-level executor that actually runs user code is explicitly
// out of scope (spec.md §1); this package only builds the CLI
// invocation, enforces max_payload_bytes, and parses the single-line
// outcome envelope, in the same shape as a scheduler's Executor that
// makes the equivalent call over HTTP instead of os/exec.
package executor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"time"

	"github.com/reproq/reproq/internal/domain"
)

// ErrPayloadTooLarge is returned when a spec exceeds MaxPayloadBytes.
type ErrPayloadTooLarge struct {
	Size  int
	Limit int
}

func (e *ErrPayloadTooLarge) Error() string {
	return fmt.Sprintf("spec payload of %d bytes exceeds max_payload_bytes %d", e.Size, e.Limit)
}

// outcomeEnvelope is the Executor -> engine wire shape of spec.md §6.
type outcomeEnvelope struct {
	OK             bool            `json:"ok"`
	Return         json.RawMessage `json:"return"`
	ExceptionClass string          `json:"exception_class"`
	Message        string          `json:"message"`
	Traceback      string          `json:"traceback"`
}

type Executor struct {
	command         string
	maxPayloadBytes int
	logger          *slog.Logger
}

func New(command string, maxPayloadBytes int, logger *slog.Logger) *Executor {
	return &Executor{
		command:         command,
		maxPayloadBytes: maxPayloadBytes,
		logger:          logger.With("component", "executor"),
	}
}

// Run invokes the Executor subprocess for one attempt and returns the
// AttemptResult the finalizer expects (spec.md §4.6, §6).
func (e *Executor) Run(ctx context.Context, run *domain.TaskRun) domain.AttemptResult {
	if len(run.Spec) > e.maxPayloadBytes {
		return domain.AttemptResult{
			ResultID: run.ResultID,
			Outcome:  domain.OutcomeFailed,
			Error: &domain.ErrorRecord{
				Kind:    domain.ErrorKindExecutionFailed,
				Message: (&ErrPayloadTooLarge{Size: len(run.Spec), Limit: e.maxPayloadBytes}).Error(),
			},
		}
	}

	timeout := time.Duration(run.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	taskPath, err := extractTaskPath(run.Spec)
	if err != nil {
		return domain.AttemptResult{
			ResultID: run.ResultID,
			Outcome:  domain.OutcomeFailed,
			Error:    &domain.ErrorRecord{Kind: domain.ErrorKindExecutionFailed, Message: "malformed spec: " + err.Error()},
		}
	}

	cmd := exec.CommandContext(ctx, e.command,
		"--payload-stdin",
		"--task-path", taskPath,
		"--result-id", strconv.FormatInt(run.ResultID, 10),
		"--attempt", strconv.FormatInt(int64(run.Attempts), 10),
	)
	cmd.Stdin = bytes.NewReader(run.Spec)
	// Once the timeout kills the subprocess, stop waiting on output pipes
	// that any of its own children may still hold open.
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	e.logger.InfoContext(ctx, "invoking executor", "result_id", run.ResultID, "attempt", run.Attempts)
	err = cmd.Run()
	duration := time.Since(start)

	if ctx.Err() != nil {
		e.logger.WarnContext(ctx, "executor timed out", "result_id", run.ResultID, "duration", duration)
		return domain.AttemptResult{
			ResultID: run.ResultID,
			Outcome:  domain.OutcomeFailed,
			Error:    &domain.ErrorRecord{Kind: domain.ErrorKindTimeout, Message: "attempt exceeded timeout_seconds"},
		}
	}

	envelope, parseErr := parseOutcomeLine(stdout.Bytes())
	if parseErr != nil {
		e.logger.ErrorContext(ctx, "executor produced no parseable outcome", "result_id", run.ResultID, "error", parseErr, "stderr", stderr.String())
		return domain.AttemptResult{
			ResultID: run.ResultID,
			Outcome:  domain.OutcomeFailed,
			Error:    &domain.ErrorRecord{Kind: domain.ErrorKindExecutionFailed, Message: "could not parse executor outcome: " + parseErr.Error()},
		}
	}

	if err != nil || !envelope.OK {
		msg := envelope.Message
		class := envelope.ExceptionClass
		if err != nil && msg == "" {
			msg = err.Error()
		}
		e.logger.InfoContext(ctx, "attempt failed", "result_id", run.ResultID, "exception_class", class, "duration", duration)
		return domain.AttemptResult{
			ResultID: run.ResultID,
			Outcome:  domain.OutcomeFailed,
			Error: &domain.ErrorRecord{
				Kind:           domain.ErrorKindExecutionFailed,
				ExceptionClass: class,
				Message:        msg,
				Traceback:      envelope.Traceback,
			},
		}
	}

	e.logger.InfoContext(ctx, "attempt succeeded", "result_id", run.ResultID, "duration", duration)
	return domain.AttemptResult{
		ResultID:    run.ResultID,
		Outcome:     domain.OutcomeOK,
		ReturnValue: []byte(envelope.Return),
	}
}

// parseOutcomeLine reads the single JSON line required by spec.md §6,
// tolerating trailing diagnostic output on subsequent lines.
func parseOutcomeLine(out []byte) (*outcomeEnvelope, error) {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var envelope outcomeEnvelope
		if err := json.Unmarshal(line, &envelope); err != nil {
			continue
		}
		return &envelope, nil
	}
	return nil, fmt.Errorf("no JSON outcome line found in %d bytes of output", len(out))
}

// extractTaskPath reads the task_path field back out of a run's
// canonical spec bytes for the --task-path flag (spec.md §6).
func extractTaskPath(spec []byte) (string, error) {
	var envelope struct {
		TaskPath string `json:"task_path"`
	}
	if err := json.Unmarshal(spec, &envelope); err != nil {
		return "", err
	}
	if envelope.TaskPath == "" {
		return "", fmt.Errorf("spec is missing task_path")
	}
	return envelope.TaskPath, nil
}

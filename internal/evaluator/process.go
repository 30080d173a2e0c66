package evaluator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ProcessConfig configures a ProcessEvaluator.
type ProcessConfig struct {
	Binary    string
	Arguments []string
	Dir       string
	// Environment entries are appended to the variables named in
	// AllowedEnvironment.
	Environment        []string
	AllowedEnvironment []string
	MaxOutputBytes     int64
}

// DefaultMaxOutputBytes bounds what is read from an evaluator's stdout and
// stderr.
const DefaultMaxOutputBytes int64 = 4 << 20

// processWaitDelay bounds how long Run waits for the output pipes to close
// after the evaluator was killed.
const processWaitDelay = 500 * time.Millisecond

// ProcessEvaluator runs an external evaluator binary once per request. The
// request JSON is written to stdin; the response JSON is read from stdout.
type ProcessEvaluator struct {
	config ProcessConfig
	logger *zap.Logger
}

// NewProcessEvaluator returns an evaluator that runs cfg.Binary.
func NewProcessEvaluator(cfg ProcessConfig, logger *zap.Logger) *ProcessEvaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultMaxOutputBytes
	}
	return &ProcessEvaluator{config: cfg, logger: logger}
}

func (p *ProcessEvaluator) Name() string {
	return "process:" + p.config.Binary
}

// Evaluate runs the binary. A missing binary is fatal; a non-zero exit is a
// process failure; output that is not a response is malformed.
func (p *ProcessEvaluator) Evaluate(ctx context.Context, req Request) (Response, error) {
	if p.config.Binary == "" {
		return Response{}, Fatal(errors.New("evaluator binary is not configured"))
	}
	payload, err := req.Encode()
	if err != nil {
		return Response{}, newError(ReasonUnavailable, err)
	}

	cmd := exec.CommandContext(ctx, p.config.Binary, p.config.Arguments...)
	cmd.Dir = p.config.Dir
	cmd.Env = p.buildEnvironment()
	cmd.Stdin = bytes.NewReader(payload)
	cmd.WaitDelay = processWaitDelay
	setupProcessGroup(cmd)

	var stdoutBuf, stderrBuf bytes.Buffer
	stdout := &limitedWriter{w: &stdoutBuf, max: p.config.MaxOutputBytes}
	stderr := &limitedWriter{w: &stderrBuf, max: p.config.MaxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	p.logger.Debug("starting evaluator process",
		zap.String("binary", p.config.Binary),
		zap.Strings("args", p.config.Arguments),
		zap.Int("request_bytes", len(payload)))

	start := time.Now()
	err = cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
			return Response{}, Fatal(fmt.Errorf("start %s: %w", p.config.Binary, err))
		}
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			p.logger.Debug("evaluator exited non-zero",
				zap.Int("exit_code", exitErr.ExitCode()),
				zap.Duration("elapsed", elapsed))
			return Response{}, &EvaluatorError{
				Reason: ReasonProcessFailure,
				Detail: fmt.Sprintf("exit code %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderrBuf.String())),
				Err:    err,
			}
		}
		return Response{}, newError(ReasonUnavailable, err)
	}

	if stdout.truncated {
		return Response{}, &EvaluatorError{
			Reason: ReasonMalformedResponse,
			Detail: fmt.Sprintf("output exceeds %d bytes", p.config.MaxOutputBytes),
		}
	}
	p.logger.Debug("evaluator process finished",
		zap.Duration("elapsed", elapsed),
		zap.Int("stdout_bytes", stdoutBuf.Len()))
	return DecodeResponse(bytes.TrimSpace(stdoutBuf.Bytes()))
}

func (p *ProcessEvaluator) buildEnvironment() []string {
	env := make([]string, 0, len(p.config.AllowedEnvironment)+len(p.config.Environment))
	for _, key := range p.config.AllowedEnvironment {
		if val, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+val)
		}
	}
	return append(env, p.config.Environment...)
}

// limitedWriter is an io.Writer that keeps at most max bytes and silently
// drops the rest.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if lw.written >= lw.max {
		lw.truncated = true
		return n, nil
	}
	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.truncated = true
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		return n, err
	}
	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}

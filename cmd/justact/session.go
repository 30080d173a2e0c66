package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"justact/internal/archive"
	"justact/internal/config"
	"justact/internal/evaluator"
	"justact/internal/logging"
	"justact/internal/mangle"
	"justact/internal/scenariolog"
	"justact/internal/session"
)

// newEvaluator builds the configured evaluation backend. The none backend
// yields nil, which the bridge answers with unavailable verdicts.
func newEvaluator(cfg config.EvaluatorConfig, logs *logging.Registry) evaluator.Evaluator {
	logger := logs.For(logging.CategoryEvaluator)
	switch cfg.Backend {
	case config.BackendMangle:
		mcfg := mangle.DefaultConfig()
		if cfg.FactLimit > 0 {
			mcfg.FactLimit = cfg.FactLimit
		}
		mcfg.Logger = logger
		return evaluator.NewMangleEvaluator(mcfg, logger)
	case config.BackendProcess:
		return evaluator.NewProcessEvaluator(evaluator.ProcessConfig{
			Binary:             cfg.Command,
			Arguments:          cfg.Args,
			Dir:                cfg.Dir,
			AllowedEnvironment: cfg.AllowedEnv,
			MaxOutputBytes:     cfg.MaxOutputBytes,
		}, logger)
	}
	return nil
}

// newSession starts a session wired to the configured evaluator.
func (a *app) newSession(name string) *session.Session {
	bridge := evaluator.NewBridge(newEvaluator(a.cfg.Evaluator, a.logs), evaluator.Options{
		Timeout:     a.cfg.GetEvaluatorTimeout(),
		Parallelism: a.cfg.Evaluator.Parallelism,
		Logger:      a.logs.For(logging.CategoryEvaluator),
	})
	return session.New(session.Config{Name: name, Bridge: bridge, Logging: a.logs})
}

// exportTranscript writes the session transcript as JSON lines.
func (a *app) exportTranscript(s *session.Session, path string) (string, error) {
	return a.writeTranscript(s.ID(), s.Transcript(), path)
}

// writeTranscript writes records as JSON lines. An empty path means a file
// named after the session in the export directory.
func (a *app) writeTranscript(id string, records []scenariolog.Record, path string) (string, error) {
	if path == "" {
		path = filepath.Join(a.cfg.Export.Directory, id+".jsonl")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create export: %w", err)
	}
	if err := scenariolog.WriteJSONL(f, records); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write export: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close export: %w", err)
	}
	a.logs.For(logging.CategoryExport).Info("transcript exported",
		zap.String("session", id),
		zap.Int("records", len(records)),
		zap.String("path", path))
	return path, nil
}

func (a *app) openArchive() (*archive.Store, error) {
	return archive.Open(a.cfg.Export.Archive, a.logs.For(logging.CategoryExport))
}

// archiveSession saves the session to the configured archive.
func (a *app) archiveSession(ctx context.Context, s *session.Session) error {
	store, err := a.openArchive()
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Save(ctx, archive.Capture(s))
}

// Package schedule dispatches catalog actions on cron schedules. Entries
// come from configuration as "CRONSPEC|action|{params json}".
package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Dispatcher is the slice of the dispatch layer the scheduler needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, params map[string]any) (string, error)
}

// Entry is one parsed schedule line.
type Entry struct {
	Spec   string
	Action string
	Params map[string]any
}

// Parse splits a "CRONSPEC|action|{params json}" line. The params segment
// is optional.
func Parse(line string) (Entry, error) {
	parts := strings.SplitN(line, "|", 3)
	if len(parts) < 2 {
		return Entry{}, fmt.Errorf("schedule %q: want CRONSPEC|action|{params}", line)
	}
	entry := Entry{
		Spec:   strings.TrimSpace(parts[0]),
		Action: strings.TrimSpace(parts[1]),
	}
	if entry.Spec == "" || entry.Action == "" {
		return Entry{}, fmt.Errorf("schedule %q: empty cron spec or action", line)
	}
	if len(parts) == 3 && strings.TrimSpace(parts[2]) != "" {
		if err := json.Unmarshal([]byte(parts[2]), &entry.Params); err != nil {
			return Entry{}, fmt.Errorf("schedule %q: bad params: %w", line, err)
		}
	}
	return entry, nil
}

// Scheduler fires dispatches on cron ticks.
type Scheduler struct {
	cron       *cron.Cron
	dispatcher Dispatcher
	logger     *zap.Logger
}

// New builds a Scheduler from schedule lines. Invalid lines fail
// construction so misconfiguration surfaces at startup.
func New(lines []string, d Dispatcher, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{cron: cron.New(), dispatcher: d, logger: logger}

	for _, line := range lines {
		entry, err := Parse(line)
		if err != nil {
			return nil, err
		}
		e := entry
		if _, err := s.cron.AddFunc(e.Spec, func() { s.fire(e) }); err != nil {
			return nil, fmt.Errorf("schedule %q: %w", line, err)
		}
	}
	return s, nil
}

func (s *Scheduler) fire(e Entry) {
	execID, err := s.dispatcher.Dispatch(context.Background(), e.Action, e.Params)
	if err != nil {
		s.logger.Warn("scheduled dispatch failed", zap.String("action", e.Action), zap.Error(err))
		return
	}
	s.logger.Info("scheduled dispatch",
		zap.String("action", e.Action),
		zap.String("execution_id", execID))
}

// Start begins firing schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

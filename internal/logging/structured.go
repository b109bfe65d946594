// Package logging provides structured JSON logging for engine components.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level represents log severity
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event represents a structured log event
type Event struct {
	Timestamp string                 `json:"ts"`
	Level     Level                  `json:"level"`
	Component string                 `json:"component"`
	Event     string                 `json:"event"`
	Plan      string                 `json:"plan,omitempty"`
	Agent     string                 `json:"agent,omitempty"`
	Task      string                 `json:"task,omitempty"`
	Duration  int64                  `json:"duration_ms,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

// Logger provides structured logging
type Logger struct {
	component string
	plan      string
	agent     string
	task      string
	out       io.Writer
	mu        *sync.Mutex
}

// New creates a new logger for a component, writing to stderr.
func New(component string) *Logger {
	return &Logger{
		component: component,
		out:       os.Stderr,
		mu:        &sync.Mutex{},
	}
}

// NewWithWriter creates a logger with a custom sink (for tests).
func NewWithWriter(component string, w io.Writer) *Logger {
	return &Logger{component: component, out: w, mu: &sync.Mutex{}}
}

// WithPlan sets the plan context
func (l *Logger) WithPlan(plan string) *Logger {
	c := *l
	c.plan = plan
	return &c
}

// WithAgent sets the agent context
func (l *Logger) WithAgent(agent string) *Logger {
	c := *l
	c.agent = agent
	return &c
}

// WithTask sets the task context
func (l *Logger) WithTask(task string) *Logger {
	c := *l
	c.task = task
	return &c
}

// log emits a structured log event
func (l *Logger) log(level Level, event string, extra map[string]interface{}, err error) {
	e := Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     level,
		Component: l.component,
		Event:     event,
		Plan:      l.plan,
		Agent:     l.agent,
		Task:      l.task,
		Extra:     extra,
	}

	if err != nil {
		e.Error = err.Error()
	}

	data, _ := json.Marshal(e)
	l.mu.Lock()
	fmt.Fprintln(l.out, string(data))
	l.mu.Unlock()
}

// Debug logs a debug event
func (l *Logger) Debug(event string, extra map[string]interface{}) {
	l.log(LevelDebug, event, extra, nil)
}

// Info logs an info event
func (l *Logger) Info(event string, extra map[string]interface{}) {
	l.log(LevelInfo, event, extra, nil)
}

// Warn logs a warning event
func (l *Logger) Warn(event string, extra map[string]interface{}, err error) {
	l.log(LevelWarn, event, extra, err)
}

// Error logs an error event
func (l *Logger) Error(event string, extra map[string]interface{}, err error) {
	l.log(LevelError, event, extra, err)
}

// TimedEvent logs an event with duration
func (l *Logger) TimedEvent(event string, start time.Time, extra map[string]interface{}) {
	e := Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     LevelInfo,
		Component: l.component,
		Event:     event,
		Plan:      l.plan,
		Agent:     l.agent,
		Task:      l.task,
		Duration:  time.Since(start).Milliseconds(),
		Extra:     extra,
	}

	data, _ := json.Marshal(e)
	l.mu.Lock()
	fmt.Fprintln(l.out, string(data))
	l.mu.Unlock()
}

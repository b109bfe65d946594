// Package alerts persists threshold-breach alerts for an external
// monitoring layer. Alerts are written as JSON files plus a rolling
// active-alert summary; breaches are observational, never fatal.
package alerts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Level represents alert severity
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// Alert represents a system alert
type Alert struct {
	ID        string                 `json:"id"`
	Level     Level                  `json:"level"`
	Component string                 `json:"component"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Resolved  bool                   `json:"resolved"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// Manager handles alert creation and persistence
type Manager struct {
	mu            sync.RWMutex
	alertDir      string
	alerts        []Alert
	maxAlerts     int
	maxAlertFiles int
}

// NewManager creates a new alert manager
func NewManager(alertDir string) *Manager {
	os.MkdirAll(alertDir, 0755)
	m := &Manager{
		alertDir:      alertDir,
		alerts:        make([]Alert, 0),
		maxAlerts:     100,
		maxAlertFiles: 100,
	}
	m.loadFromDisk()
	m.rotateOldFiles()
	return m
}

// loadFromDisk loads existing alerts from the active.json file
func (m *Manager) loadFromDisk() {
	data, err := os.ReadFile(filepath.Join(m.alertDir, "active.json"))
	if err != nil {
		return // No existing alerts
	}

	var summary struct {
		Alerts []Alert `json:"alerts"`
	}
	if err := json.Unmarshal(data, &summary); err != nil {
		return
	}

	m.alerts = summary.Alerts
}

// Send creates and persists a new alert
func (m *Manager) Send(level Level, component, title, message string, ctx map[string]interface{}) *Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	alert := Alert{
		ID:        fmt.Sprintf("alert-%d", time.Now().UnixNano()),
		Level:     level,
		Component: component,
		Title:     title,
		Message:   message,
		Timestamp: time.Now().UTC(),
		Context:   ctx,
	}

	m.alerts = append(m.alerts, alert)

	// Trim old alerts
	if len(m.alerts) > m.maxAlerts {
		m.alerts = m.alerts[len(m.alerts)-m.maxAlerts:]
	}

	m.persistAlert(&alert)
	m.updateActiveAlerts()

	return &alert
}

// Resolve marks an alert as resolved
func (m *Manager) Resolve(alertID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.alerts {
		if m.alerts[i].ID == alertID {
			m.alerts[i].Resolved = true
			break
		}
	}

	m.updateActiveAlerts()
}

// GetActive returns all unresolved alerts
func (m *Manager) GetActive() []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	active := make([]Alert, 0)
	for _, a := range m.alerts {
		if !a.Resolved {
			active = append(active, a)
		}
	}
	return active
}

// GetRecent returns the most recent alerts
func (m *Manager) GetRecent(count int) []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if count > len(m.alerts) {
		count = len(m.alerts)
	}
	return m.alerts[len(m.alerts)-count:]
}

// persistAlert writes a single alert to a file
func (m *Manager) persistAlert(alert *Alert) {
	filename := filepath.Join(m.alertDir, fmt.Sprintf("%s.json", alert.ID))
	data, _ := json.MarshalIndent(alert, "", "  ")
	os.WriteFile(filename, data, 0644)

	// Rotate old files periodically (every 10 alerts)
	if len(m.alerts)%10 == 0 {
		m.rotateOldFiles()
	}
}

// rotateOldFiles removes old alert JSON files beyond maxAlertFiles
func (m *Manager) rotateOldFiles() {
	entries, err := os.ReadDir(m.alertDir)
	if err != nil {
		return
	}

	type alertFile struct {
		name    string
		modTime time.Time
	}
	var alertFiles []alertFile

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		// Only process alert-*.json files, skip active.json
		if len(name) > 6 && name[:6] == "alert-" && filepath.Ext(name) == ".json" {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			alertFiles = append(alertFiles, alertFile{
				name:    name,
				modTime: info.ModTime(),
			})
		}
	}

	if len(alertFiles) <= m.maxAlertFiles {
		return
	}

	sort.Slice(alertFiles, func(i, j int) bool {
		return alertFiles[i].modTime.Before(alertFiles[j].modTime)
	})

	toRemove := len(alertFiles) - m.maxAlertFiles
	for i := 0; i < toRemove; i++ {
		os.Remove(filepath.Join(m.alertDir, alertFiles[i].name))
	}
}

// updateActiveAlerts writes active alerts to a summary file
func (m *Manager) updateActiveAlerts() {
	active := make([]Alert, 0)
	for _, a := range m.alerts {
		if !a.Resolved {
			active = append(active, a)
		}
	}

	summary := struct {
		Count     int       `json:"count"`
		Updated   time.Time `json:"updated"`
		Alerts    []Alert   `json:"alerts"`
		HasErrors bool      `json:"has_errors"`
	}{
		Count:   len(active),
		Updated: time.Now().UTC(),
		Alerts:  active,
	}

	for _, a := range active {
		if a.Level == LevelError || a.Level == LevelCritical {
			summary.HasErrors = true
			break
		}
	}

	data, _ := json.MarshalIndent(summary, "", "  ")
	os.WriteFile(filepath.Join(m.alertDir, "active.json"), data, 0644)
}

package config

import (
	"context"
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"

	"quarry/internal/logging"
)

// Manager publishes the current Settings record. Readers take a value
// copy; runtime reconfiguration swaps the record under the write lock so
// subsequent requests observe the new values.
type Manager struct {
	mu   sync.RWMutex
	cur  *Settings
	path string
}

// NewManager wraps an initial settings record.
func NewManager(initial *Settings, path string) *Manager {
	return &Manager{cur: initial, path: path}
}

// Current returns a copy of the active settings.
func (m *Manager) Current() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.cur
}

// Replace swaps the active settings record.
func (m *Manager) Replace(s *Settings) {
	m.mu.Lock()
	m.cur = s
	m.mu.Unlock()
	logging.Config("settings replaced")
}

// Apply merges field overrides into a copy of the current record and
// publishes it. Unknown keys are rejected.
func (m *Manager) Apply(overrides map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := *m.cur
	for key, val := range overrides {
		if err := applyOverride(&next, key, val); err != nil {
			return err
		}
	}
	m.cur = &next
	logging.Config("applied %d setting override(s)", len(overrides))
	return nil
}

func applyOverride(s *Settings, key string, val any) error {
	switch key {
	case "max_search_results":
		return setInt(&s.MaxSearchResults, key, val)
	case "offline_retrieval_mode":
		return setString(&s.OfflineRetrievalMode, key, val)
	case "request_timeout":
		return setString(&s.RequestTimeout, key, val)
	case "max_chars_per_source":
		return setInt(&s.MaxCharsPerSrc, key, val)
	case "web_top_k":
		return setInt(&s.WebTopK, key, val)
	case "doc_semantic_top_k":
		return setInt(&s.DocSemanticTopK, key, val)
	case "doc_keyword_top_k":
		return setInt(&s.DocKeywordTopK, key, val)
	case "web_max_chars":
		return setInt(&s.WebMaxChars, key, val)
	case "doc_max_chars":
		return setInt(&s.DocMaxChars, key, val)
	case "total_context_budget":
		return setInt(&s.TotalContextBudget, key, val)
	case "web_budget_fraction":
		return setFloat(&s.WebBudgetFrac, key, val)
	case "enable_tabular_analytics":
		return setBool(&s.EnableTabularAnalytics, key, val)
	case "analytics_groupby_top_n_default":
		return setInt(&s.GroupByTopNDefault, key, val)
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
}

func setInt(dst *int, key string, val any) error {
	switch v := val.(type) {
	case int:
		*dst = v
	case float64: // JSON numbers decode as float64
		*dst = int(v)
	default:
		return fmt.Errorf("setting %q wants an integer, got %T", key, val)
	}
	return nil
}

func setFloat(dst *float64, key string, val any) error {
	switch v := val.(type) {
	case float64:
		*dst = v
	case int:
		*dst = float64(v)
	default:
		return fmt.Errorf("setting %q wants a number, got %T", key, val)
	}
	return nil
}

func setBool(dst *bool, key string, val any) error {
	v, ok := val.(bool)
	if !ok {
		return fmt.Errorf("setting %q wants a boolean, got %T", key, val)
	}
	*dst = v
	return nil
}

func setString(dst *string, key string, val any) error {
	v, ok := val.(string)
	if !ok {
		return fmt.Errorf("setting %q wants a string, got %T", key, val)
	}
	*dst = v
	return nil
}

// Watch reloads the settings file when it changes on disk. Blocks until
// the context is cancelled.
func (m *Manager) Watch(ctx context.Context) error {
	if m.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(m.path); err != nil {
		return fmt.Errorf("failed to watch %s: %w", m.path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			next, err := Load(m.path)
			if err != nil {
				logging.Config("reload failed: %v", err)
				continue
			}
			m.Replace(next)
			_ = logging.ReloadConfig()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Config("watch error: %v", err)
		}
	}
}

package common

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// Pauses is an in-memory PauseView toggled by operators.
type Pauses struct {
	mu      sync.RWMutex
	modules map[string]bool
}

// NewPauses returns a view with the listed modules paused.
func NewPauses(paused ...string) *Pauses {
	p := &Pauses{modules: make(map[string]bool)}
	for _, module := range paused {
		p.Set(module, true)
	}
	return p
}

func normalizeModule(module string) string {
	return strings.ToLower(strings.TrimSpace(module))
}

// Set pauses or resumes module.
func (p *Pauses) Set(module string, paused bool) {
	if p == nil {
		return
	}
	name := normalizeModule(module)
	if name == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if paused {
		p.modules[name] = true
		return
	}
	delete(p.modules, name)
}

// IsPaused implements PauseView.
func (p *Pauses) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.modules[normalizeModule(module)]
}

// Paused lists the paused modules in name order.
func (p *Pauses) Paused() []string {
	if p == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.modules))
	for name := range p.modules {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

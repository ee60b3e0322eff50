// Package env resolves ${VAR} references in definition values against the
// process environment and explicit overrides.
package env

import (
	"os"
	"strings"
	"sync"
)

type Var map[string]string

type Env struct {
	mu  sync.RWMutex
	Var Var // overrides, win over the OS environment
	os  Var // cached OS environment
}

func New() *Env {
	return &Env{Var: make(Var)}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() *Env {
	base := make(Var)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			base[kv[:i]] = kv[i+1:]
		}
	}
	e.mu.Lock()
	e.os = base
	e.mu.Unlock()
	return e
}

// Set sets an override K=V.
func (e *Env) Set(k, v string) *Env {
	if k == "" {
		return e
	}
	e.mu.Lock()
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
	e.mu.Unlock()
	return e
}

func (e *Env) Lookup(k string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if v, ok := e.Var[k]; ok {
		return v, true
	}
	v, ok := e.os[k]
	return v, ok
}

// Expand replaces ${VAR} with its value. Unknown variables and a
// nil receiver leave s untouched. Expansion is not recursive.
func (e *Env) Expand(s string) string {
	if e == nil || !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			break
		}
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			break
		}
		name := s[i+2 : i+2+j]
		b.WriteString(s[:i])
		if v, ok := e.Lookup(name); ok && name != "" {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : i+3+j])
		}
		s = s[i+3+j:]
	}
	b.WriteString(s)
	return b.String()
}

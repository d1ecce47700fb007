package env

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

type Var map[string]string

// Env composes the environment handed to webfsd: the supervisor's own
// environment, then global overrides, then per-start entries.
type Env struct {
	Var  Var // global overrides (K->V)
	base Var // cached OS environment
}

func New() *Env {
	return &Env{Var: make(Var)}
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() { e.base = parse(os.Environ()) }

// FromSlice replaces the base with kvs instead of the OS environment.
func (e *Env) FromSlice(kvs []string) { e.base = parse(kvs) }

// Set sets a global variable K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// SetAll sets every KEY=VALUE entry of kvs as a global override.
func (e *Env) SetAll(kvs []string) error {
	for i, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return fmt.Errorf("env[%d] %q must be KEY=VALUE", i, kv)
		}
		e.Set(k, v)
	}
	return nil
}

func (e *Env) Unset(k string) {
	if e.Var != nil {
		delete(e.Var, k)
	}
}

// Merge returns the composed environment as KEY=VALUE entries sorted by key.
// Override values may reference ${VAR}; references resolve against the
// layers below them, so PATH=/opt/bin:${PATH} extends the inherited PATH.
// Unknown references are left as written.
func (e *Env) Merge(perStart []string) []string {
	if e.base == nil {
		e.FromOS()
	}
	m := make(Var, len(e.base)+len(e.Var)+len(perStart))
	for k, v := range e.base {
		m[k] = v
	}
	apply := func(layer Var) {
		resolved := make(Var, len(layer))
		for k, v := range layer {
			if k != "" {
				resolved[k] = expand(v, m)
			}
		}
		for k, v := range resolved {
			m[k] = v
		}
	}
	apply(e.Var)
	apply(parse(perStart))

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+m[k])
	}
	return out
}

func parse(kvs []string) Var {
	m := make(Var, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		m[k] = v
	}
	return m
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			b.WriteString(s)
			return b.String()
		}
		name := s[i+2 : i+2+j]
		b.WriteString(s[:i])
		if v, ok := m[name]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : i+3+j])
		}
		s = s[i+3+j:]
	}
}

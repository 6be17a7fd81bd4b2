package aem

import (
	"bytes"
	"encoding/json"
	"slices"
)

// ConfigurationStore indexes configurations by mode, each list ascending by
// ValidFrom. It is not safe for concurrent use; the reporter owns it.
type ConfigurationStore struct {
	byMode map[string][]*Configuration
}

// NewConfigurationStore creates an empty store.
func NewConfigurationStore() *ConfigurationStore {
	return &ConfigurationStore{byMode: make(map[string][]*Configuration)}
}

// Add inserts cfg, replacing an entry with the same (valid_from, business_id).
// Reports whether the store changed; an identical re-delivery is not a change.
func (s *ConfigurationStore) Add(cfg *Configuration) bool {
	if cfg == nil {
		return false
	}
	list := s.byMode[cfg.Mode]
	for i, existing := range list {
		if existing.SameVersion(cfg) {
			if sameContent(existing, cfg) {
				return false
			}
			list[i] = cfg
			return true
		}
	}
	idx, _ := slices.BinarySearchFunc(list, cfg.ValidFrom, func(c *Configuration, v int64) int {
		switch {
		case c.ValidFrom < v:
			return -1
		case c.ValidFrom > v:
			return 1
		default:
			return 0
		}
	})
	// Equal ValidFrom with a different business id goes after the existing ones.
	for idx < len(list) && list[idx].ValidFrom == cfg.ValidFrom {
		idx++
	}
	s.byMode[cfg.Mode] = slices.Insert(list, idx, cfg)
	return true
}

// sameContent compares the persisted forms of two configurations.
func sameContent(a, b *Configuration) bool {
	ja, err := json.Marshal(a)
	if err != nil {
		return false
	}
	jb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}

// List returns the configurations of one mode, oldest first.
func (s *ConfigurationStore) List(mode string) []*Configuration {
	return s.byMode[mode]
}

// Candidates returns the lookup list for an invocation: CPAS followed by
// BRAND for business scoped invocations, DEFAULT otherwise.
func (s *ConfigurationStore) Candidates(businessScoped bool) []*Configuration {
	if !businessScoped {
		return s.byMode[ModeDefault]
	}
	cpas := s.byMode[ModeCPAS]
	brand := s.byMode[ModeBrand]
	out := make([]*Configuration, 0, len(cpas)+len(brand))
	out = append(out, cpas...)
	return append(out, brand...)
}

// All returns every configuration, grouped by mode in sorted mode order.
func (s *ConfigurationStore) All() []*Configuration {
	modes := make([]string, 0, len(s.byMode))
	for m := range s.byMode {
		modes = append(modes, m)
	}
	slices.Sort(modes)
	var out []*Configuration
	for _, m := range modes {
		out = append(out, s.byMode[m]...)
	}
	return out
}

// Len returns the number of stored configurations.
func (s *ConfigurationStore) Len() int {
	n := 0
	for _, list := range s.byMode {
		n += len(list)
	}
	return n
}

// LatestDefault returns the newest DEFAULT configuration, or nil.
func (s *ConfigurationStore) LatestDefault() *Configuration {
	list := s.byMode[ModeDefault]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

// Retain drops configurations for which keep returns false. Reports whether
// anything was removed.
func (s *ConfigurationStore) Retain(keep func(*Configuration) bool) bool {
	changed := false
	for mode, list := range s.byMode {
		kept := slices.DeleteFunc(slices.Clone(list), func(c *Configuration) bool {
			return !keep(c)
		})
		if len(kept) == len(list) {
			continue
		}
		changed = true
		if len(kept) == 0 {
			delete(s.byMode, mode)
			continue
		}
		s.byMode[mode] = kept
	}
	return changed
}

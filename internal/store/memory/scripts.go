package memory

import (
	"context"
	"sort"

	"execplane/internal/store"
)

func (s *Store) UpsertScript(ctx context.Context, script *store.Script) error {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()

	c := *script
	c.Version = 1
	if prev, ok := s.scripts[script.ID]; ok {
		c.Version = prev.Version
		if prev.ContentHash != script.ContentHash {
			c.Version++
		}
	}
	c.UpdatedAt = s.now()
	s.scripts[script.ID] = &c

	script.Version = c.Version
	script.UpdatedAt = c.UpdatedAt
	return nil
}

func (s *Store) GetScript(ctx context.Context, id string) (*store.Script, error) {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()

	script, ok := s.scripts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *script
	return &c, nil
}

func (s *Store) ListScripts(ctx context.Context) ([]store.Script, error) {
	s.catalogMu.RLock()
	out := make([]store.Script, 0, len(s.scripts))
	for _, script := range s.scripts {
		out = append(out, *script)
	}
	s.catalogMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DeleteScript(ctx context.Context, id string) error {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()

	if _, ok := s.scripts[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.scripts, id)
	for key := range s.assignments {
		if key.scriptID == id {
			delete(s.assignments, key)
		}
	}
	return nil
}

func (s *Store) AssignScript(ctx context.Context, scriptID, clientID string) error {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()

	if _, ok := s.scripts[scriptID]; !ok {
		return store.ErrNotFound
	}
	key := pairKey{scriptID, clientID}
	if _, ok := s.assignments[key]; !ok {
		s.assignments[key] = s.now()
	}
	return nil
}

func (s *Store) UnassignScript(ctx context.Context, scriptID, clientID string) error {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()

	key := pairKey{scriptID, clientID}
	if _, ok := s.assignments[key]; !ok {
		return store.ErrNotFound
	}
	delete(s.assignments, key)
	return nil
}

func (s *Store) IsAssigned(ctx context.Context, scriptID, clientID string) (bool, error) {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()

	_, ok := s.assignments[pairKey{scriptID, clientID}]
	return ok, nil
}

func (s *Store) ListAssignments(ctx context.Context, filter store.AssignmentFilter) ([]store.Assignment, error) {
	s.catalogMu.RLock()
	out := []store.Assignment{}
	for key, at := range s.assignments {
		if filter.ScriptID != "" && key.scriptID != filter.ScriptID {
			continue
		}
		if filter.ClientID != "" && key.clientID != filter.ClientID {
			continue
		}
		out = append(out, store.Assignment{ScriptID: key.scriptID, ClientID: key.clientID, CreatedAt: at})
	}
	s.catalogMu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ScriptID != out[j].ScriptID {
			return out[i].ScriptID < out[j].ScriptID
		}
		return out[i].ClientID < out[j].ClientID
	})
	return out, nil
}

package version

import "github.com/flowcoreio/enginecore/internal/event/store"

// FieldRename returns a Migrator that renames a field within
// EventData, leaving every other field untouched.
func FieldRename(from, to string) Migrator {
	return func(env *store.Envelope) (*store.Envelope, error) {
		out := cloneEnvelope(env)
		if v, ok := out.EventData[from]; ok {
			out.EventData[to] = v
			delete(out.EventData, from)
		}
		return out, nil
	}
}

// AddField returns a Migrator that sets field to defaultValue if it is
// not already present.
func AddField(field string, defaultValue any) Migrator {
	return func(env *store.Envelope) (*store.Envelope, error) {
		out := cloneEnvelope(env)
		if _, ok := out.EventData[field]; !ok {
			out.EventData[field] = defaultValue
		}
		return out, nil
	}
}

// RemoveField returns a Migrator that deletes field from EventData.
func RemoveField(field string) Migrator {
	return func(env *store.Envelope) (*store.Envelope, error) {
		out := cloneEnvelope(env)
		delete(out.EventData, field)
		return out, nil
	}
}

func cloneEnvelope(env *store.Envelope) *store.Envelope {
	clone := *env
	clone.EventData = make(map[string]any, len(env.EventData))
	for k, v := range env.EventData {
		clone.EventData[k] = v
	}
	return &clone
}

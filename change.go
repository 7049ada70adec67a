package globalstate

// Op is the kind of change a Set made to one key.
type Op string

const (
	// OpInsert means the key was absent before the Set.
	OpInsert Op = "insert"
	// OpUpdate means the key existed and was overwritten. The values may be equal:
	// a key counts as changed whenever a partial update touches it.
	OpUpdate Op = "update"
)

// Change records what one Set did to one key.
type Change struct {
	Key      string `json:"key"`
	Op       Op     `json:"operation"`
	Value    any    `json:"value"`
	OldValue any    `json:"old_value,omitempty"`
}

// Diff lists, sorted by key, the changes merging partial into base makes.
func Diff(base, partial State) []Change {
	if len(partial) == 0 {
		return nil
	}
	changes := make([]Change, 0, len(partial))
	for _, key := range partial.Keys() {
		c := Change{Key: key, Op: OpInsert, Value: partial[key]}
		if old, ok := base[key]; ok {
			c.Op = OpUpdate
			c.OldValue = old
		}
		changes = append(changes, c)
	}
	return changes
}

// Event is what store-wide callbacks receive after each successful Set.
type Event struct {
	// State is the state produced by the Set.
	State State `json:"state"`
	// Partial is the partial update that was merged.
	Partial State `json:"partial"`
	// Changes lists the touched keys.
	Changes []Change `json:"changes"`
	// Reducer and Args are set when the update ran a reducer.
	Reducer string `json:"reducer,omitempty"`
	Args    []any  `json:"args,omitempty"`
	// Dispatch runs reducers on the same store.
	Dispatch *Dispatch `json:"-"`
}

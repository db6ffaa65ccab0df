package models

// CompletionEvent is a single completion returned by a chat model during a
// conversation turn. LogID is set by models whose output can be attested.
type CompletionEvent struct {
	Completion string  `json:"completion"`
	LogID      *string `json:"log_id,omitempty"`
}

// ConversationTurn is one exchange unit in a chat session. Optional fields are
// pointers so an absent value can be told apart from an empty one.
type ConversationTurn struct {
	UUID     *string           `json:"uuid,omitempty"`
	ModelKey *string           `json:"model_key,omitempty"`
	Events   []CompletionEvent `json:"events,omitempty"`
}

// ChatModel describes a completion model known to the service.
// Name is the identifier used when building attestation URLs; IsNEAR marks
// models whose responses must be verified before they are trusted.
type ChatModel struct {
	Key         string `json:"key" toml:"key"`
	Name        string `json:"name" toml:"name"`
	DisplayName string `json:"display_name,omitempty" toml:"display_name"`
	IsNEAR      bool   `json:"is_near" toml:"is_near"`
}

// UniqueLogIDs returns the distinct log IDs of the turn's completion events in
// first-seen order. Events without a log ID are skipped.
func (t ConversationTurn) UniqueLogIDs() []string {
	seen := make(map[string]struct{}, len(t.Events))
	var out []string
	for _, ev := range t.Events {
		if ev.LogID == nil {
			continue
		}
		if _, ok := seen[*ev.LogID]; ok {
			continue
		}
		seen[*ev.LogID] = struct{}{}
		out = append(out, *ev.LogID)
	}
	return out
}

package world

// IntentKind is a combat or movement request recorded during the tick window.
type IntentKind byte

const (
	IntentMove IntentKind = iota + 1
	IntentAttack
	IntentUseItem
)

func (k IntentKind) String() string {
	switch k {
	case IntentMove:
		return "move"
	case IntentAttack:
		return "attack"
	case IntentUseItem:
		return "use_item"
	}
	return "unknown"
}

// Intent is resolved at the resolve phase in recording order.
type Intent struct {
	Seq     uint64
	Kind    IntentKind
	Actor   EntityID
	Session uint64 // 0 for script-issued intents
	Heading byte
	Target  EntityID
	ItemID  uint32
}

// RecordIntent appends in to the tick's intent list and returns its sequence.
func (m *Manager) RecordIntent(in Intent) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intentSeq++
	in.Seq = m.intentSeq
	m.intents = append(m.intents, in)
	return in.Seq
}

// TakeIntents returns the recorded intents in recording order and clears them.
func (m *Manager) TakeIntents() []Intent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.intents
	m.intents = nil
	return out
}

package packet

import "fmt"

// MsgType is the 2-byte message-type tag. The namespace is shared by both
// directions; a request and its response are paired by adjacent values.
type MsgType uint16

const (
	TypeHello       MsgType = 0x0001
	TypeHelloAck    MsgType = 0x0002
	TypeHelloReject MsgType = 0x0003

	TypePing MsgType = 0x0010
	TypePong MsgType = 0x0011

	TypeLogin       MsgType = 0x0020
	TypeLoginResult MsgType = 0x0021
	TypeLogout      MsgType = 0x0022

	TypeEnterWorld       MsgType = 0x0030
	TypeEnterWorldResult MsgType = 0x0031

	TypeMove     MsgType = 0x0040
	TypeAttack   MsgType = 0x0041
	TypeUseItem  MsgType = 0x0042
	TypeSay      MsgType = 0x0043
	TypeInteract MsgType = 0x0044

	TypeEntityAppear    MsgType = 0x0050
	TypeEntityDelta     MsgType = 0x0051
	TypeEntityDisappear MsgType = 0x0052
	TypeChat            MsgType = 0x0053
	TypeDialogue        MsgType = 0x0054
	TypeBuffUpdate      MsgType = 0x0055

	TypeProtocolError MsgType = 0x00F0

	TypeDbRequest  MsgType = 0x0100
	TypeDbResponse MsgType = 0x0101
)

var typeNames = map[MsgType]string{
	TypeHello:            "Hello",
	TypeHelloAck:         "HelloAck",
	TypeHelloReject:      "HelloReject",
	TypePing:             "Ping",
	TypePong:             "Pong",
	TypeLogin:            "Login",
	TypeLoginResult:      "LoginResult",
	TypeLogout:           "Logout",
	TypeEnterWorld:       "EnterWorld",
	TypeEnterWorldResult: "EnterWorldResult",
	TypeMove:             "Move",
	TypeAttack:           "Attack",
	TypeUseItem:          "UseItem",
	TypeSay:              "Say",
	TypeInteract:         "Interact",
	TypeEntityAppear:     "EntityAppear",
	TypeEntityDelta:      "EntityDelta",
	TypeEntityDisappear:  "EntityDisappear",
	TypeChat:             "Chat",
	TypeDialogue:         "Dialogue",
	TypeBuffUpdate:       "BuffUpdate",
	TypeProtocolError:    "ProtocolError",
	TypeDbRequest:        "DbRequest",
	TypeDbResponse:       "DbResponse",
}

func (t MsgType) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("0x%04X", uint16(t))
}

// Message is an immutable typed protocol value.
type Message interface {
	Type() MsgType
	encode(w *Writer)
	decode(r *Reader)
}

func newMessage(t MsgType) Message {
	switch t {
	case TypeHello:
		return &Hello{}
	case TypeHelloAck:
		return &HelloAck{}
	case TypeHelloReject:
		return &HelloReject{}
	case TypePing:
		return &Ping{}
	case TypePong:
		return &Pong{}
	case TypeLogin:
		return &Login{}
	case TypeLoginResult:
		return &LoginResult{}
	case TypeLogout:
		return &Logout{}
	case TypeEnterWorld:
		return &EnterWorld{}
	case TypeEnterWorldResult:
		return &EnterWorldResult{}
	case TypeMove:
		return &Move{}
	case TypeAttack:
		return &Attack{}
	case TypeUseItem:
		return &UseItem{}
	case TypeSay:
		return &Say{}
	case TypeInteract:
		return &Interact{}
	case TypeEntityAppear:
		return &EntityAppear{}
	case TypeEntityDelta:
		return &EntityDelta{}
	case TypeEntityDisappear:
		return &EntityDisappear{}
	case TypeChat:
		return &Chat{}
	case TypeDialogue:
		return &Dialogue{}
	case TypeBuffUpdate:
		return &BuffUpdate{}
	case TypeProtocolError:
		return &ProtocolError{}
	case TypeDbRequest:
		return &DbRequest{}
	case TypeDbResponse:
		return &DbResponse{}
	}
	return nil
}

// KnownTypes lists every message type the codec can decode.
func KnownTypes() []MsgType {
	out := make([]MsgType, 0, len(typeNames))
	for t := range typeNames {
		out = append(out, t)
	}
	return out
}

// ── Handshake ─────────────────────────────────────────────────────

// Hello is the first client frame: protocol version + optional pre-auth token.
type Hello struct {
	Version uint16
	Token   string
}

func (*Hello) Type() MsgType { return TypeHello }
func (m *Hello) encode(w *Writer) {
	w.WriteH(m.Version)
	w.WriteS(m.Token)
}
func (m *Hello) decode(r *Reader) {
	m.Version = r.ReadH()
	m.Token = r.ReadS()
}

type HelloAck struct {
	SessionID     uint64
	TickMillis    uint32
	ServerTime    int64
	Authenticated bool // pre-auth token accepted, Login not required
}

func (*HelloAck) Type() MsgType { return TypeHelloAck }
func (m *HelloAck) encode(w *Writer) {
	w.WriteQ(m.SessionID)
	w.WriteD(m.TickMillis)
	w.WriteQ(uint64(m.ServerTime))
	w.WriteC(boolByte(m.Authenticated))
}
func (m *HelloAck) decode(r *Reader) {
	m.SessionID = r.ReadQ()
	m.TickMillis = r.ReadD()
	m.ServerTime = int64(r.ReadQ())
	m.Authenticated = readBool(r)
}

// Handshake rejection reasons.
const (
	RejectVersion  byte = 1
	RejectToken    byte = 2
	RejectCapacity byte = 3
	RejectProtocol byte = 4
)

type HelloReject struct {
	Reason   byte
	Expected uint16
}

func (*HelloReject) Type() MsgType { return TypeHelloReject }
func (m *HelloReject) encode(w *Writer) {
	w.WriteC(m.Reason)
	w.WriteH(m.Expected)
}
func (m *HelloReject) decode(r *Reader) {
	m.Reason = r.ReadC()
	m.Expected = r.ReadH()
}

// ── Keep-alive ────────────────────────────────────────────────────

type Ping struct{ Nonce uint32 }

func (*Ping) Type() MsgType      { return TypePing }
func (m *Ping) encode(w *Writer) { w.WriteD(m.Nonce) }
func (m *Ping) decode(r *Reader) { m.Nonce = r.ReadD() }

type Pong struct{ Nonce uint32 }

func (*Pong) Type() MsgType      { return TypePong }
func (m *Pong) encode(w *Writer) { w.WriteD(m.Nonce) }
func (m *Pong) decode(r *Reader) { m.Nonce = r.ReadD() }

// ── Authentication ────────────────────────────────────────────────

type Login struct {
	Account  string
	Password string
}

func (*Login) Type() MsgType { return TypeLogin }
func (m *Login) encode(w *Writer) {
	w.WriteS(m.Account)
	w.WriteS(m.Password)
}
func (m *Login) decode(r *Reader) {
	m.Account = r.ReadS()
	m.Password = r.ReadS()
}

// Login result codes.
const (
	LoginOK          byte = 0
	LoginWrongPass   byte = 1
	LoginNoAccount   byte = 2
	LoginBanned      byte = 3
	LoginInUse       byte = 4
	LoginUnavailable byte = 5 // persistence unreachable
)

type LoginResult struct{ Code byte }

func (*LoginResult) Type() MsgType      { return TypeLoginResult }
func (m *LoginResult) encode(w *Writer) { w.WriteC(m.Code) }
func (m *LoginResult) decode(r *Reader) { m.Code = r.ReadC() }

type Logout struct{}

func (*Logout) Type() MsgType  { return TypeLogout }
func (*Logout) encode(*Writer) {}
func (*Logout) decode(*Reader) {}

// ── World entry ───────────────────────────────────────────────────

type EnterWorld struct{ Character string }

func (*EnterWorld) Type() MsgType      { return TypeEnterWorld }
func (m *EnterWorld) encode(w *Writer) { w.WriteS(m.Character) }
func (m *EnterWorld) decode(r *Reader) { m.Character = r.ReadS() }

// Enter-world result codes.
const (
	EnterOK          byte = 0
	EnterNotOwner    byte = 1
	EnterNoCharacter byte = 2
	EnterFailed      byte = 3
	EnterBusy        byte = 4
)

// EnterWorldResult carries the fresh snapshot a (re)connecting client resyncs from.
type EnterWorldResult struct {
	Code     byte
	EntityID uint64
	Zone     uint32
	X, Y     int32
	HP       int32
	MaxHP    int32
	MP       int32
	MaxMP    int32
	Level    uint16
}

func (*EnterWorldResult) Type() MsgType { return TypeEnterWorldResult }
func (m *EnterWorldResult) encode(w *Writer) {
	w.WriteC(m.Code)
	w.WriteQ(m.EntityID)
	w.WriteD(m.Zone)
	w.WriteI(m.X)
	w.WriteI(m.Y)
	w.WriteI(m.HP)
	w.WriteI(m.MaxHP)
	w.WriteI(m.MP)
	w.WriteI(m.MaxMP)
	w.WriteH(m.Level)
}
func (m *EnterWorldResult) decode(r *Reader) {
	m.Code = r.ReadC()
	m.EntityID = r.ReadQ()
	m.Zone = r.ReadD()
	m.X = r.ReadI()
	m.Y = r.ReadI()
	m.HP = r.ReadI()
	m.MaxHP = r.ReadI()
	m.MP = r.ReadI()
	m.MaxMP = r.ReadI()
	m.Level = r.ReadH()
}

// ── Gameplay requests ─────────────────────────────────────────────

// Move steps one tile in Heading (0-7, clockwise from north).
type Move struct{ Heading byte }

func (*Move) Type() MsgType      { return TypeMove }
func (m *Move) encode(w *Writer) { w.WriteC(m.Heading) }
func (m *Move) decode(r *Reader) { m.Heading = r.ReadC() }

type Attack struct{ Target uint64 }

func (*Attack) Type() MsgType      { return TypeAttack }
func (m *Attack) encode(w *Writer) { w.WriteQ(m.Target) }
func (m *Attack) decode(r *Reader) { m.Target = r.ReadQ() }

type UseItem struct {
	ItemID uint32
	Target uint64 // 0 = self
}

func (*UseItem) Type() MsgType { return TypeUseItem }
func (m *UseItem) encode(w *Writer) {
	w.WriteD(m.ItemID)
	w.WriteQ(m.Target)
}
func (m *UseItem) decode(r *Reader) {
	m.ItemID = r.ReadD()
	m.Target = r.ReadQ()
}

type Say struct{ Text string }

func (*Say) Type() MsgType      { return TypeSay }
func (m *Say) encode(w *Writer) { w.WriteS(m.Text) }
func (m *Say) decode(r *Reader) { m.Text = r.ReadS() }

// Interact talks to an NPC; Option is empty for the opening line.
type Interact struct {
	Target uint64
	Option string
}

func (*Interact) Type() MsgType { return TypeInteract }
func (m *Interact) encode(w *Writer) {
	w.WriteQ(m.Target)
	w.WriteS(m.Option)
}
func (m *Interact) decode(r *Reader) {
	m.Target = r.ReadQ()
	m.Option = r.ReadS()
}

// ── World state deltas (server → client) ──────────────────────────

type EntityAppear struct {
	ID       uint64
	Kind     byte
	Template uint32
	Name     string
	X, Y     int32
	Heading  byte
	HP       int32
	MaxHP    int32
}

func (*EntityAppear) Type() MsgType { return TypeEntityAppear }
func (m *EntityAppear) encode(w *Writer) {
	w.WriteQ(m.ID)
	w.WriteC(m.Kind)
	w.WriteD(m.Template)
	w.WriteS(m.Name)
	w.WriteI(m.X)
	w.WriteI(m.Y)
	w.WriteC(m.Heading)
	w.WriteI(m.HP)
	w.WriteI(m.MaxHP)
}
func (m *EntityAppear) decode(r *Reader) {
	m.ID = r.ReadQ()
	m.Kind = r.ReadC()
	m.Template = r.ReadD()
	m.Name = r.ReadS()
	m.X = r.ReadI()
	m.Y = r.ReadI()
	m.Heading = r.ReadC()
	m.HP = r.ReadI()
	m.MaxHP = r.ReadI()
}

type EntityDelta struct {
	ID      uint64
	X, Y    int32
	Heading byte
	HP      int32
	MP      int32
	Action  byte
}

func (*EntityDelta) Type() MsgType { return TypeEntityDelta }
func (m *EntityDelta) encode(w *Writer) {
	w.WriteQ(m.ID)
	w.WriteI(m.X)
	w.WriteI(m.Y)
	w.WriteC(m.Heading)
	w.WriteI(m.HP)
	w.WriteI(m.MP)
	w.WriteC(m.Action)
}
func (m *EntityDelta) decode(r *Reader) {
	m.ID = r.ReadQ()
	m.X = r.ReadI()
	m.Y = r.ReadI()
	m.Heading = r.ReadC()
	m.HP = r.ReadI()
	m.MP = r.ReadI()
	m.Action = r.ReadC()
}

type EntityDisappear struct{ ID uint64 }

func (*EntityDisappear) Type() MsgType      { return TypeEntityDisappear }
func (m *EntityDisappear) encode(w *Writer) { w.WriteQ(m.ID) }
func (m *EntityDisappear) decode(r *Reader) { m.ID = r.ReadQ() }

type Chat struct {
	From uint64
	Name string
	Text string
}

func (*Chat) Type() MsgType { return TypeChat }
func (m *Chat) encode(w *Writer) {
	w.WriteQ(m.From)
	w.WriteS(m.Name)
	w.WriteS(m.Text)
}
func (m *Chat) decode(r *Reader) {
	m.From = r.ReadQ()
	m.Name = r.ReadS()
	m.Text = r.ReadS()
}

type Dialogue struct {
	From    uint64
	Text    string
	Options []string
}

func (*Dialogue) Type() MsgType { return TypeDialogue }
func (m *Dialogue) encode(w *Writer) {
	w.WriteQ(m.From)
	w.WriteS(m.Text)
	w.WriteC(byte(len(m.Options)))
	for _, o := range m.Options {
		w.WriteS(o)
	}
}
func (m *Dialogue) decode(r *Reader) {
	m.From = r.ReadQ()
	m.Text = r.ReadS()
	n := int(r.ReadC())
	if n == 0 {
		m.Options = nil
		return
	}
	m.Options = make([]string, 0, n)
	for i := 0; i < n && !r.Short(); i++ {
		m.Options = append(m.Options, r.ReadS())
	}
}

type BuffUpdate struct {
	Entity    uint64
	BuffID    uint32
	Remaining uint32 // ticks; 0 with Removed=false means permanent
	Removed   bool
}

func (*BuffUpdate) Type() MsgType { return TypeBuffUpdate }
func (m *BuffUpdate) encode(w *Writer) {
	w.WriteQ(m.Entity)
	w.WriteD(m.BuffID)
	w.WriteD(m.Remaining)
	w.WriteC(boolByte(m.Removed))
}
func (m *BuffUpdate) decode(r *Reader) {
	m.Entity = r.ReadQ()
	m.BuffID = r.ReadD()
	m.Remaining = r.ReadD()
	m.Removed = readBool(r)
}

// ProtocolError codes reported to the client.
const (
	ErrCodeUnknownType uint16 = 1
	ErrCodeBadState    uint16 = 2
	ErrCodeRejected    uint16 = 3
)

type ProtocolError struct {
	Code     uint16
	Offender MsgType
	Message  string
}

func (*ProtocolError) Type() MsgType { return TypeProtocolError }
func (m *ProtocolError) encode(w *Writer) {
	w.WriteH(m.Code)
	w.WriteH(uint16(m.Offender))
	w.WriteS(m.Message)
}
func (m *ProtocolError) decode(r *Reader) {
	m.Code = r.ReadH()
	m.Offender = MsgType(r.ReadH())
	m.Message = r.ReadS()
}

// ── Persistence link (core ↔ dbproxyd) ───────────────────────────

type DbRequest struct {
	RequestID [16]byte
	Kind      byte
	Table     string
	Key       string
	Payload   []byte
}

func (*DbRequest) Type() MsgType { return TypeDbRequest }
func (m *DbRequest) encode(w *Writer) {
	w.WriteFixed(m.RequestID[:])
	w.WriteC(m.Kind)
	w.WriteS(m.Table)
	w.WriteS(m.Key)
	w.WriteBytes(m.Payload)
}
func (m *DbRequest) decode(r *Reader) {
	r.ReadFixed(m.RequestID[:])
	m.Kind = r.ReadC()
	m.Table = r.ReadS()
	m.Key = r.ReadS()
	m.Payload = r.ReadBytes()
}

// DbResponse status values.
const (
	DbOK        byte = 0
	DbNotFound  byte = 1
	DbTransient byte = 2
	DbFatal     byte = 3
	DbConflict  byte = 4
)

type DbResponse struct {
	RequestID [16]byte
	Status    byte
	Payload   []byte
	Error     string
}

func (*DbResponse) Type() MsgType { return TypeDbResponse }
func (m *DbResponse) encode(w *Writer) {
	w.WriteFixed(m.RequestID[:])
	w.WriteC(m.Status)
	w.WriteBytes(m.Payload)
	w.WriteS(m.Error)
}
func (m *DbResponse) decode(r *Reader) {
	r.ReadFixed(m.RequestID[:])
	m.Status = r.ReadC()
	m.Payload = r.ReadBytes()
	m.Error = r.ReadS()
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func readBool(r *Reader) bool {
	return r.ReadC() != 0
}

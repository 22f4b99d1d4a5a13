package internal

import (
	"encoding/xml"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// ActorID 回合內的物件 ID
type ActorID uint16

// ActorFactory 發放回合內遞增的 ActorID
//
// 第一個 ID 為 1，超過 65535 後回到 0。ID 只在一個回合內唯一。
type ActorFactory struct {
	prev atomic.Uint32
}

// NewActorFactory 創建 ActorFactory
func NewActorFactory() *ActorFactory {
	return &ActorFactory{}
}

// NextActorID 先遞增再回傳
func (f *ActorFactory) NextActorID() ActorID {
	return ActorID(f.prev.Add(1))
}

// ActorKind 物件種類
type ActorKind string

const (
	ActorPlayer     ActorKind = "player"
	ActorCheckpoint ActorKind = "checkpoint"
	ActorBox        ActorKind = "box"
	ActorLight      ActorKind = "light"
	ActorSpell      ActorKind = "spell"
)

// spellSpeed 法術每秒移動距離
const spellSpeed = 1500.0

// Actor 回合中的一個物件
//
// 位置與旋轉由回合 goroutine 更新，控制台等外部讀取也會進來，所以加鎖。
type Actor struct {
	id          ActorID
	kind        ActorKind
	description string

	mu               sync.RWMutex
	position         Vector3
	rotation         Vector3
	velocity         Vector3
	rotationVelocity Vector3
	orbit            *orbit
}

// orbit 繞圓心轉動
type orbit struct {
	center Vector3
	radius float64
	speed  float64 // 弧度/秒
	angle  float64
}

// ID 物件 ID
func (a *Actor) ID() ActorID { return a.id }

// Kind 物件種類
func (a *Actor) Kind() ActorKind { return a.kind }

// Description 送給客戶端的 XML 描述
func (a *Actor) Description() string { return a.description }

// Position 目前位置
func (a *Actor) Position() Vector3 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.position
}

// SetPosition 設置位置
func (a *Actor) SetPosition(p Vector3) {
	a.mu.Lock()
	a.position = p
	a.mu.Unlock()
}

// Rotation 目前旋轉
func (a *Actor) Rotation() Vector3 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.rotation
}

// SetRotation 設置旋轉
func (a *Actor) SetRotation(r Vector3) {
	a.mu.Lock()
	a.rotation = r
	a.mu.Unlock()
}

// Velocity 目前速度
func (a *Actor) Velocity() Vector3 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.velocity
}

// SetVelocity 設置速度
func (a *Actor) SetVelocity(v Vector3) {
	a.mu.Lock()
	a.velocity = v
	a.mu.Unlock()
}

// ApplyControl 以客戶端回報的控制資料覆蓋狀態
func (a *Actor) ApplyControl(c PlayerControlData) {
	a.mu.Lock()
	a.position = c.Position
	a.velocity = c.Velocity
	a.rotation = c.Rotation
	a.mu.Unlock()
}

// OnUpdate 推進一個 tick
func (a *Actor) OnUpdate(dt time.Duration) {
	sec := dt.Seconds()

	a.mu.Lock()
	defer a.mu.Unlock()

	if o := a.orbit; o != nil {
		o.angle += o.speed * sec
		a.position = Vector3{
			X: o.center.X + math.Cos(o.angle)*o.radius,
			Y: o.center.Y,
			Z: o.center.Z - math.Sin(o.angle)*o.radius,
		}
		a.velocity = Vector3{
			X: -math.Sin(o.angle) * o.radius * o.speed,
			Z: -math.Cos(o.angle) * o.radius * o.speed,
		}
		a.rotation = Vector3{X: o.angle, Z: o.angle}
		a.rotationVelocity = Vector3{X: o.speed, Z: o.speed}
		return
	}

	a.rotation = a.rotation.Add(a.rotationVelocity.Scale(sec))
	if a.kind == ActorSpell {
		a.position = a.position.Add(a.velocity.Scale(sec))
	}
}

// Instance CREATE_OBJECTS 用的快照
func (a *Actor) Instance() ObjectInstance {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return ObjectInstance{
		ID:          a.id,
		Description: a.description,
		Position:    a.position,
		Rotation:    a.rotation,
	}
}

// UpdateData UPDATE_OBJECTS 用的快照
func (a *Actor) UpdateData() UpdateObjectData {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return UpdateObjectData{
		ID:               a.id,
		Position:         a.position,
		Velocity:         a.velocity,
		Rotation:         a.rotation,
		RotationVelocity: a.rotationVelocity,
	}
}

// NewPlayerActor 玩家角色
func (f *ActorFactory) NewPlayerActor(position Vector3, character, style string) *Actor {
	desc := objectDesc{
		Model: &modelDesc{Mesh: "WITCH", Scale: xmlVec(Vector3{1, 1, 1})},
		SpherePhysics: &spherePhysicsDesc{
			Radius:         50,
			Mass:           68,
			OffsetPosition: xmlVec(Vector3{0, 50, 0}),
		},
	}
	if character != "" {
		desc.Look = &lookDesc{Character: character, Style: style}
	}
	return &Actor{
		id:          f.NextActorID(),
		kind:        ActorPlayer,
		description: desc.String(),
		position:    position,
	}
}

// NewCheckpointActor 檢查點
func (f *ActorFactory) NewCheckpointActor(position, scale Vector3) *Actor {
	desc := objectDesc{
		Model:       &modelDesc{Mesh: "Checkpoint", Scale: xmlVec(scale)},
		AABBPhysics: &aabbPhysicsDesc{Halfsize: xmlVec(scale.Scale(0.5)), IsEdge: true},
	}
	return &Actor{
		id:          f.NextActorID(),
		kind:        ActorCheckpoint,
		description: desc.String(),
		position:    position,
	}
}

// NewBoxActor 繞 center 轉動的方塊
func (f *ActorFactory) NewBoxActor(center Vector3, radius, speed float64) *Actor {
	scale := Vector3{100, 100, 100}
	desc := objectDesc{
		Movement:   &movementDesc{},
		Model:      &modelDesc{Mesh: "BOX", Scale: xmlVec(scale)},
		OBBPhysics: &obbPhysicsDesc{Halfsize: xmlVec(scale.Scale(0.5))},
		Pulse:      &pulseDesc{Length: 0.5, Strength: 0.5},
	}
	a := &Actor{
		id:    f.NextActorID(),
		kind:  ActorBox,
		orbit: &orbit{center: center, radius: radius, speed: speed},
	}
	a.OnUpdate(0)
	desc.Movement.Velocity = xmlVec(a.velocity)
	desc.Movement.RotationalVelocity = xmlVec(a.rotationVelocity)
	a.description = desc.String()
	return a
}

// NewLightActor 方向光
func (f *ActorFactory) NewLightActor(direction, color Vector3) *Actor {
	desc := objectDesc{
		Light: &lightDesc{
			Type:      "Directional",
			Direction: xmlVec(direction),
			Color:     &colorDesc{R: color.X, G: color.Y, B: color.Z},
		},
	}
	return &Actor{
		id:          f.NextActorID(),
		kind:        ActorLight,
		description: desc.String(),
	}
}

// NewSpellActor 由 caster 施放的法術
func (f *ActorFactory) NewSpellActor(name string, caster ActorID, direction, position Vector3) *Actor {
	dir := direction
	if l := dir.Len(); l > 0 {
		dir = dir.Scale(1 / l)
	}
	desc := objectDesc{
		Spell: &spellDesc{Name: name, Caster: caster},
	}
	return &Actor{
		id:          f.NextActorID(),
		kind:        ActorSpell,
		description: desc.String(),
		position:    position,
		velocity:    dir.Scale(spellSpeed),
	}
}

// 物件描述的 XML 結構

type vecDesc struct {
	X float64 `xml:"x,attr"`
	Y float64 `xml:"y,attr"`
	Z float64 `xml:"z,attr"`
}

func xmlVec(v Vector3) *vecDesc {
	return &vecDesc{X: v.X, Y: v.Y, Z: v.Z}
}

type modelDesc struct {
	Mesh  string   `xml:"Mesh,attr"`
	Scale *vecDesc `xml:"Scale"`
}

type movementDesc struct {
	Velocity           *vecDesc `xml:"Velocity"`
	RotationalVelocity *vecDesc `xml:"RotationalVelocity"`
}

type spherePhysicsDesc struct {
	Immovable      bool     `xml:"Immovable,attr"`
	Radius         float64  `xml:"Radius,attr"`
	Mass           float64  `xml:"Mass,attr"`
	OffsetPosition *vecDesc `xml:"OffsetPosition"`
}

type obbPhysicsDesc struct {
	Halfsize *vecDesc `xml:"Halfsize"`
}

type aabbPhysicsDesc struct {
	IsEdge   bool     `xml:"IsEdge,attr"`
	Halfsize *vecDesc `xml:"Halfsize"`
}

type pulseDesc struct {
	Length   float64 `xml:"Length,attr"`
	Strength float64 `xml:"Strength,attr"`
}

type colorDesc struct {
	R float64 `xml:"r,attr"`
	G float64 `xml:"g,attr"`
	B float64 `xml:"b,attr"`
}

type lightDesc struct {
	Type      string     `xml:"Type,attr"`
	Direction *vecDesc   `xml:"Direction"`
	Color     *colorDesc `xml:"Color"`
}

type lookDesc struct {
	Character string `xml:"Character,attr"`
	Style     string `xml:"Style,attr"`
}

type spellDesc struct {
	Name   string  `xml:"SpellName,attr"`
	Caster ActorID `xml:"CasterId,attr"`
}

type objectDesc struct {
	XMLName       xml.Name           `xml:"Object"`
	Movement      *movementDesc      `xml:"Movement,omitempty"`
	Model         *modelDesc         `xml:"Model,omitempty"`
	SpherePhysics *spherePhysicsDesc `xml:"SpherePhysics,omitempty"`
	OBBPhysics    *obbPhysicsDesc    `xml:"OBBPhysics,omitempty"`
	AABBPhysics   *aabbPhysicsDesc   `xml:"AABBPhysics,omitempty"`
	Pulse         *pulseDesc         `xml:"Pulse,omitempty"`
	Light         *lightDesc         `xml:"Light,omitempty"`
	Look          *lookDesc          `xml:"Look,omitempty"`
	Spell         *spellDesc         `xml:"Spell,omitempty"`
}

func (d objectDesc) String() string {
	out, err := xml.Marshal(d)
	if err != nil {
		// 所有欄位都是基本型別，不會失敗
		return "<Object></Object>"
	}
	return string(out)
}

// colorUpdate 檢查點顏色變更，放在 UPDATE_OBJECTS 的 extra 欄位
type colorUpdate struct {
	XMLName  xml.Name `xml:"ObjectUpdate"`
	ActorID  ActorID  `xml:"ActorId,attr"`
	Type     string   `xml:"Type,attr"`
	SetColor *vecDesc `xml:"SetColor"`
}

func checkpointColorUpdate(id ActorID, color Vector3) string {
	out, err := xml.Marshal(colorUpdate{ActorID: id, Type: "Color", SetColor: xmlVec(color)})
	if err != nil {
		return ""
	}
	return string(out)
}

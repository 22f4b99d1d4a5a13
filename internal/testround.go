package internal

import (
	"math"
	"time"
)

// TestRound 測試用回合：每位玩家一個繞圈的方塊，加上一盞方向光
type TestRound struct {
	boxes []*Actor
	light *Actor
}

// NewTestRound 創建測試回合
func NewTestRound() *TestRound {
	return &TestRound{}
}

// Setup 為每位玩家建立方塊與角色
func (t *TestRound) Setup(r *GameRound) error {
	af := r.ActorFactory()

	for i, p := range r.Players() {
		fi := float64(i)
		t.boxes = append(t.boxes, af.NewBoxActor(
			Vector3{X: 500, Y: 200 + fi*100, Z: 400},
			(fi+1)*100,
			math.Pi/10,
		))

		var character, style string
		if u, ok := p.User().Get(); ok {
			character, style = u.CharacterName(), u.CharacterStyle()
		}
		p.SetActor(af.NewPlayerActor(Vector3{X: 500 - fi*200, Y: 450, Z: 600}, character, style))
	}

	t.light = af.NewLightActor(Vector3{Y: -1}, Vector3{X: 1, Y: 1, Z: 1})
	return nil
}

// SendLevel 傳送所有物件，並告訴每位玩家自己的角色
func (t *TestRound) SendLevel(r *GameRound) error {
	instances := make([]ObjectInstance, 0, len(t.boxes)+len(r.Players())+1)
	for _, box := range t.boxes {
		instances = append(instances, box.Instance())
	}
	for _, p := range r.Players() {
		if a := p.Actor(); a != nil {
			instances = append(instances, a.Instance())
		}
	}
	if t.light != nil {
		instances = append(instances, t.light.Instance())
	}

	r.EachConnected(func(p *Player, u *User) {
		conn := u.Connection()
		conn.SendCreateObjects(instances)
		if a := p.Actor(); a != nil {
			conn.SendAssignPlayer(a.ID())
		}
	})
	return nil
}

// UpdateLogic 推進方塊與角色
func (t *TestRound) UpdateLogic(r *GameRound, dt time.Duration) error {
	for _, box := range t.boxes {
		box.OnUpdate(dt)
	}
	for _, p := range r.Players() {
		if a := p.Actor(); a != nil {
			a.OnUpdate(dt)
		}
	}
	return nil
}

// SendUpdates 廣播所有物件狀態
func (t *TestRound) SendUpdates(r *GameRound) error {
	players := r.Players()
	updates := make([]UpdateObjectData, 0, len(t.boxes)+len(players))
	for _, box := range t.boxes {
		updates = append(updates, box.UpdateData())
	}
	for _, p := range players {
		if a := p.Actor(); a != nil {
			updates = append(updates, a.UpdateData())
		}
	}

	r.EachConnected(func(_ *Player, u *User) {
		u.Connection().SendUpdateObjects(updates, nil)
	})
	return nil
}

// PlayerDisconnected 通知其他玩家移除離線者的角色
func (t *TestRound) PlayerDisconnected(r *GameRound, gone *Player) {
	removeActorForOthers(r, gone)
}

// Boxes 目前的方塊
func (t *TestRound) Boxes() []*Actor {
	return t.boxes
}

func removeActorForOthers(r *GameRound, gone *Player) {
	a := gone.Actor()
	if a == nil {
		return
	}
	ids := []ActorID{a.ID()}
	r.EachConnected(func(p *Player, u *User) {
		if p == gone {
			return
		}
		u.Connection().SendRemoveObjects(ids)
	})
}

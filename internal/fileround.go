package internal

import (
	"time"
)

// checkpointRadius 角色與檢查點距離在此之內算通過
const checkpointRadius = 150.0

var checkpointScale = Vector3{X: 1, Y: 10, Z: 1}

type checkpointHit struct {
	player     *Player
	checkpoint *Actor
}

// FileRound 從關卡檔載入的競速回合
//
// 每位玩家依序通過起點、編號遞增的檢查點與終點。
// 抵達終點時送出名次，全員完成後送出完整成績。
type FileRound struct {
	path  string
	level *LevelFile

	checkpoints []*Actor
	hits        []checkpointHit
	results     []ResultEntry
	resultsSent bool
	raceStart   time.Time
}

// NewFileRound 以關卡檔路徑創建競速回合
func NewFileRound(path string) *FileRound {
	return &FileRound{path: path}
}

// Setup 建立玩家角色並從關卡檔建立檢查點
func (f *FileRound) Setup(r *GameRound) error {
	af := r.ActorFactory()

	for i, p := range r.Players() {
		var character, style string
		if u, ok := p.User().Get(); ok {
			character, style = u.CharacterName(), u.CharacterStyle()
		}
		p.SetActor(af.NewPlayerActor(Vector3{X: 500 - float64(i)*200, Y: 450, Z: 500}, character, style))
	}

	level, err := LoadLevelFile(f.path)
	if err != nil {
		return err
	}
	f.level = level

	// 終點最先加入，起點最後加入，所以起點是第一個要通過的
	f.checkpoints = append(f.checkpoints, af.NewCheckpointActor(level.End, checkpointScale))
	for _, cp := range level.CheckpointsDescending() {
		f.checkpoints = append(f.checkpoints, af.NewCheckpointActor(cp.Position, checkpointScale))
	}
	f.checkpoints = append(f.checkpoints, af.NewCheckpointActor(level.Start, checkpointScale))

	for _, p := range r.Players() {
		for _, cp := range f.checkpoints {
			p.Checkpoints().Add(cp)
		}
	}
	return nil
}

// SendLevel 傳送物件、關卡資料與角色指派
func (f *FileRound) SendLevel(r *GameRound) error {
	var instances []ObjectInstance
	for _, p := range r.Players() {
		if a := p.Actor(); a != nil {
			instances = append(instances, a.Instance())
		}
	}
	for _, cp := range f.checkpoints {
		instances = append(instances, cp.Instance())
	}

	var stream []byte
	if f.level != nil {
		stream = f.level.DataStream()
	}

	r.EachConnected(func(p *Player, u *User) {
		a := p.Actor()
		if a == nil {
			return
		}
		conn := u.Connection()
		conn.SendCreateObjects(instances)
		conn.SendLevelData(stream)
		conn.SendAssignPlayer(a.ID())
	})
	return nil
}

// UpdateLogic 推進角色並檢查是否通過目前的檢查點
func (f *FileRound) UpdateLogic(r *GameRound, dt time.Duration) error {
	if f.raceStart.IsZero() {
		f.raceStart = time.Now()
	}

	for _, p := range r.Players() {
		a := p.Actor()
		if a == nil {
			continue
		}
		a.OnUpdate(dt)

		cps := p.Checkpoints()
		cp := cps.Current()
		if cp == nil {
			continue
		}
		if a.Position().Sub(cp.Position()).Len() <= checkpointRadius {
			f.hits = append(f.hits, checkpointHit{player: p, checkpoint: cp})
			cps.ChangeCheckpoint()
		}
	}
	return nil
}

// SendUpdates 廣播角色狀態，處理本 tick 的檢查點與名次
func (f *FileRound) SendUpdates(r *GameRound) error {
	players := r.Players()
	updates := make([]UpdateObjectData, 0, len(players))
	for _, p := range players {
		if a := p.Actor(); a != nil {
			updates = append(updates, a.UpdateData())
		}
	}
	r.EachConnected(func(_ *Player, u *User) {
		u.Connection().SendUpdateObjects(updates, nil)
	})

	for _, hit := range f.hits {
		u, ok := hit.player.User().Get()
		if !ok {
			continue
		}
		conn := u.Connection()
		conn.SendRemoveObjects([]ActorID{hit.checkpoint.ID()})

		cps := hit.player.Checkpoints()
		if !cps.ReachedFinishLine() {
			next := cps.Current()
			conn.SendUpdateObjects(nil, []string{checkpointColorUpdate(next.ID(), cps.CurrentColor())})
			continue
		}

		place := len(f.results) + 1
		elapsed := time.Since(f.raceStart)
		f.results = append(f.results, ResultEntry{
			Name:  u.Username(),
			Place: place,
			Time:  elapsed.Seconds(),
		})
		conn.SendGameResult(GameResultData{Type: ResultPosition, Place: place})
		r.Logger().Info("玩家抵達終點", "user", u.Username(), "place", place, "time", elapsed)

		r.RecordResult(RaceResult{
			Player: u.Username(),
			Place:  place,
			Time:   elapsed,
		})
	}
	f.hits = f.hits[:0]

	if !f.resultsSent && len(f.results) > 0 && len(f.results) >= len(players) {
		list := GameResultData{Type: ResultList, Results: append([]ResultEntry(nil), f.results...)}
		r.EachConnected(func(_ *Player, u *User) {
			u.Connection().SendGameResult(list)
		})
		f.resultsSent = true
	}
	return nil
}

// HandleExtraPackage 轉發施法與物件動作給其他玩家
func (f *FileRound) HandleExtraPackage(r *GameRound, from *Player, pkg Package) bool {
	switch pkg.Type {
	case PackageThrowSpell:
		data, err := pkg.ThrowSpell()
		if err != nil {
			r.Logger().Warn("無效的 THROW_SPELL 封包", "error", err)
			return true
		}
		caster := from.Actor()
		if caster == nil {
			return true
		}
		spell := r.ActorFactory().NewSpellActor(data.SpellName, caster.ID(), data.Direction, data.Position)
		objects := []ObjectInstance{spell.Instance()}
		r.EachConnected(func(p *Player, u *User) {
			if p != from {
				u.Connection().SendCreateObjects(objects)
			}
		})
		return true

	case PackageObjectAction:
		data, err := pkg.ObjectAction()
		if err != nil {
			r.Logger().Warn("無效的 OBJECT_ACTION 封包", "error", err)
			return true
		}
		r.EachConnected(func(p *Player, u *User) {
			if p != from {
				u.Connection().SendObjectAction(data.ActorID, data.Action)
			}
		})
		return true
	}
	return false
}

// PlayerDisconnected 通知其他玩家移除離線者的角色
func (f *FileRound) PlayerDisconnected(r *GameRound, gone *Player) {
	removeActorForOthers(r, gone)
}

// Results 目前的名次
func (f *FileRound) Results() []ResultEntry {
	return append([]ResultEntry(nil), f.results...)
}

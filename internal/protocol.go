package internal

import (
	"encoding/json"
	"fmt"
	"math"
)

// PackageType 封包類型
type PackageType string

// 客戶端送來的封包
const (
	PackagePlayerControl PackageType = "PLAYER_CONTROL"
	PackageDoneLoading   PackageType = "DONE_LOADING"
	PackageLeaveGame     PackageType = "LEAVE_GAME"
	PackageThrowSpell    PackageType = "THROW_SPELL"
	PackageObjectAction  PackageType = "OBJECT_ACTION"
)

// 伺服器送出的封包
const (
	PackageCreateObjects PackageType = "CREATE_OBJECTS"
	PackageLevelData     PackageType = "LEVEL_DATA"
	PackageAssignPlayer  PackageType = "ASSIGN_PLAYER"
	PackageUpdateObjects PackageType = "UPDATE_OBJECTS"
	PackageRemoveObjects PackageType = "REMOVE_OBJECTS"
	PackageGameResult    PackageType = "GAME_RESULT"
)

// Vector3 三維向量
type Vector3 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// Add 向量相加
func (v Vector3) Add(o Vector3) Vector3 {
	return Vector3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

// Sub 向量相減
func (v Vector3) Sub(o Vector3) Vector3 {
	return Vector3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

// Scale 純量乘法
func (v Vector3) Scale(s float64) Vector3 {
	return Vector3{v.X * s, v.Y * s, v.Z * s}
}

// Len 向量長度
func (v Vector3) Len() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Package 一個封包的 JSON 信封
type Package struct {
	Type PackageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewPackage 以任意 payload 建立封包
func NewPackage(t PackageType, data any) (Package, error) {
	pkg := Package{Type: t}
	if data == nil {
		return pkg, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Package{}, fmt.Errorf("序列化 %s 失敗: %w", t, err)
	}
	pkg.Data = raw
	return pkg, nil
}

func (p Package) decode(want PackageType, v any) error {
	if p.Type != want {
		return fmt.Errorf("封包類型為 %s，不是 %s", p.Type, want)
	}
	if len(p.Data) == 0 {
		return fmt.Errorf("%s 封包缺少資料", want)
	}
	if err := json.Unmarshal(p.Data, v); err != nil {
		return fmt.Errorf("解析 %s 失敗: %w", want, err)
	}
	return nil
}

// PlayerControl 取出玩家控制資料
func (p Package) PlayerControl() (PlayerControlData, error) {
	var d PlayerControlData
	err := p.decode(PackagePlayerControl, &d)
	return d, err
}

// ThrowSpell 取出施法資料
func (p Package) ThrowSpell() (ThrowSpellData, error) {
	var d ThrowSpellData
	err := p.decode(PackageThrowSpell, &d)
	return d, err
}

// ObjectAction 取出物件動作資料
func (p Package) ObjectAction() (ObjectActionData, error) {
	var d ObjectActionData
	err := p.decode(PackageObjectAction, &d)
	return d, err
}

// PlayerControlData 玩家控制輸入
type PlayerControlData struct {
	Position Vector3 `json:"position"`
	Velocity Vector3 `json:"velocity"`
	Rotation Vector3 `json:"rotation"`
	Forward  Vector3 `json:"forward"`
	Up       Vector3 `json:"up"`
}

// ThrowSpellData 施法請求
type ThrowSpellData struct {
	SpellName string  `json:"spell_name"`
	Direction Vector3 `json:"direction"`
	Position  Vector3 `json:"position"`
}

// ObjectActionData 物件動作
type ObjectActionData struct {
	ActorID ActorID `json:"actor_id"`
	Action  string  `json:"action"`
}

// ObjectInstance CREATE_OBJECTS 中的一個物件
type ObjectInstance struct {
	ID          ActorID `json:"id"`
	Description string  `json:"description"`
	Position    Vector3 `json:"position"`
	Rotation    Vector3 `json:"rotation"`
}

// UpdateObjectData UPDATE_OBJECTS 中的一筆狀態
type UpdateObjectData struct {
	ID               ActorID `json:"id"`
	Position         Vector3 `json:"position"`
	Velocity         Vector3 `json:"velocity"`
	Rotation         Vector3 `json:"rotation"`
	RotationVelocity Vector3 `json:"rotation_velocity"`
}

// UpdateObjectsData UPDATE_OBJECTS 的 payload
type UpdateObjectsData struct {
	Updates []UpdateObjectData `json:"updates"`
	Extra   []string           `json:"extra,omitempty"`
}

// CreateObjectsData CREATE_OBJECTS 的 payload
type CreateObjectsData struct {
	Objects []ObjectInstance `json:"objects"`
}

// LevelData LEVEL_DATA 的 payload，位元組以 base64 編碼
type LevelData struct {
	Data []byte `json:"data"`
}

// AssignPlayerData ASSIGN_PLAYER 的 payload
type AssignPlayerData struct {
	ActorID ActorID `json:"actor_id"`
}

// RemoveObjectsData REMOVE_OBJECTS 的 payload
type RemoveObjectsData struct {
	IDs []ActorID `json:"ids"`
}

// 比賽結果類型
const (
	ResultPosition = "position"
	ResultList     = "list"
)

// ResultEntry 一位玩家的成績
type ResultEntry struct {
	Name  string  `json:"name"`
	Place int     `json:"place"`
	Time  float64 `json:"time"`
}

// GameResultData GAME_RESULT 的 payload
type GameResultData struct {
	Type    string        `json:"type"`
	Place   int           `json:"place,omitempty"`
	Results []ResultEntry `json:"results,omitempty"`
}

package internal

// 檢查點色調 (RGB 0~1)
var (
	DefaultCheckpointTone = Vector3{X: 1, Y: 1, Z: 1}
	CurrentCheckpointTone = Vector3{X: 0.027, Y: 0.231, Z: 0.376}
	FinishCheckpointTone  = Vector3{X: 0.95, Y: 0.1, Z: 0.1}
)

// CheckpointSystem 一位玩家的賽道進度
//
// 依 終點 → 編號大到小 → 起點 的順序加入，
// 最後加入的就是目前要通過的檢查點，通過後從尾端移除。
type CheckpointSystem struct {
	checkpoints []*Actor
	total       int
}

// NewCheckpointSystem 創建空的檢查點系統
func NewCheckpointSystem() *CheckpointSystem {
	return &CheckpointSystem{}
}

// Add 加入檢查點
func (c *CheckpointSystem) Add(cp *Actor) {
	c.checkpoints = append(c.checkpoints, cp)
	c.total++
}

// Current 目前要通過的檢查點，已到終點時回傳 nil
func (c *CheckpointSystem) Current() *Actor {
	if len(c.checkpoints) == 0 {
		return nil
	}
	return c.checkpoints[len(c.checkpoints)-1]
}

// ChangeCheckpoint 通過目前的檢查點
func (c *CheckpointSystem) ChangeCheckpoint() {
	if len(c.checkpoints) == 0 {
		return
	}
	c.checkpoints = c.checkpoints[:len(c.checkpoints)-1]
}

// ReachedFinishLine 所有檢查點都已通過
func (c *CheckpointSystem) ReachedFinishLine() bool {
	return len(c.checkpoints) == 0
}

// CurrentColor 目前檢查點應有的色調
func (c *CheckpointSystem) CurrentColor() Vector3 {
	switch len(c.checkpoints) {
	case 0:
		return DefaultCheckpointTone
	case 1:
		return FinishCheckpointTone
	default:
		return CurrentCheckpointTone
	}
}

// Count 從關卡載入的檢查點總數
func (c *CheckpointSystem) Count() int {
	return c.total
}

// Remaining 尚未通過的檢查點數
func (c *CheckpointSystem) Remaining() int {
	return len(c.checkpoints)
}

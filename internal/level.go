package internal

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// CheckpointDef 關卡檔中的一個檢查點
type CheckpointDef struct {
	Number   int     `yaml:"number"`
	Position Vector3 `yaml:"position"`
}

// LevelFile 關卡檔
//
// 伺服器只讀取賽道資訊，其餘內容原封不動以 LEVEL_DATA 轉給客戶端。
type LevelFile struct {
	Start       Vector3         `yaml:"start"`
	End         Vector3         `yaml:"end"`
	Checkpoints []CheckpointDef `yaml:"checkpoints"`

	raw []byte
}

// LoadLevelFile 讀取並解析關卡檔
func LoadLevelFile(path string) (*LevelFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("讀取關卡檔失敗: %w", err)
	}
	lvl, err := ParseLevelFile(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return lvl, nil
}

// ParseLevelFile 解析關卡內容
func ParseLevelFile(data []byte) (*LevelFile, error) {
	var lvl LevelFile
	if err := yaml.Unmarshal(data, &lvl); err != nil {
		return nil, fmt.Errorf("解析關卡檔失敗: %w", err)
	}

	seen := make(map[int]bool, len(lvl.Checkpoints))
	for _, cp := range lvl.Checkpoints {
		if seen[cp.Number] {
			return nil, fmt.Errorf("檢查點編號重複: %d", cp.Number)
		}
		seen[cp.Number] = true
	}

	lvl.raw = data
	return &lvl, nil
}

// DataStream 原始檔案內容
func (l *LevelFile) DataStream() []byte {
	return l.raw
}

// CheckpointsDescending 依編號由大到小排列
func (l *LevelFile) CheckpointsDescending() []CheckpointDef {
	out := make([]CheckpointDef, len(l.Checkpoints))
	copy(out, l.Checkpoints)
	sort.Slice(out, func(i, j int) bool {
		return out[i].Number > out[j].Number
	})
	return out
}

package collab

import "collabcore/internal/ot"

// DiffOnce 把一次本地编辑折叠为单个连续区段的操作序列：
// 先裁掉公共前缀和公共后缀，剩余的中段要么是插入、要么是删除，
// 要么是等长替换（拆成删除+插入两个操作）。
// 该策略假定编辑通常是一次按键或一次粘贴；跨多个不相邻区段的
// 替换会被折叠成一个字节级近似，内容仍然正确回放。
func DiffOnce(oldText, newText string) []ot.Op {
	if oldText == newText {
		return nil
	}
	o := []rune(oldText)
	n := []rune(newText)

	// 公共前缀
	p := 0
	for p < len(o) && p < len(n) && o[p] == n[p] {
		p++
	}
	// 公共后缀（不与前缀重叠）
	s := 0
	for s < len(o)-p && s < len(n)-p && o[len(o)-1-s] == n[len(n)-1-s] {
		s++
	}

	removed := len(o) - p - s
	added := n[p : len(n)-s]

	var ops []ot.Op
	if removed > 0 {
		ops = append(ops, ot.Op{Kind: ot.KindDelete, Pos: p, Len: removed})
	}
	if len(added) > 0 {
		ops = append(ops, ot.Op{Kind: ot.KindInsert, Pos: p, Text: string(added)})
	}
	return ops
}

package collab

import (
	"strings"

	"collabcore/internal/ot"
)

type bufferKind int

const (
	bufOriginal bufferKind = iota
	bufAdd
)

type piece struct {
	buf    bufferKind
	offset int
	length int
}

// PieceTable 是客户端本地缓冲区：original 保存初始内容，
// add 只追加，pieces 描述逻辑顺序。位置均以 rune 计。
type PieceTable struct {
	original []rune
	add      []rune
	pieces   []piece
}

func NewPieceTable(initial string) *PieceTable {
	r := []rune(initial)
	pt := &PieceTable{original: r}
	if len(r) > 0 {
		pt.pieces = []piece{{buf: bufOriginal, offset: 0, length: len(r)}}
	}
	return pt
}

func (pt *PieceTable) Len() int {
	n := 0
	for _, p := range pt.pieces {
		n += p.length
	}
	return n
}

func (pt *PieceTable) String() string {
	var b strings.Builder
	for _, p := range pt.pieces {
		switch p.buf {
		case bufOriginal:
			b.WriteString(string(pt.original[p.offset : p.offset+p.length]))
		case bufAdd:
			b.WriteString(string(pt.add[p.offset : p.offset+p.length]))
		}
	}
	return b.String()
}

// Reset 用快照内容整体替换缓冲区
func (pt *PieceTable) Reset(content string) {
	r := []rune(content)
	pt.original = r
	pt.add = nil
	pt.pieces = nil
	if len(r) > 0 {
		pt.pieces = []piece{{buf: bufOriginal, offset: 0, length: len(r)}}
	}
}

// Insert 在 pos 前插入 text
func (pt *PieceTable) Insert(pos int, text string) error {
	if pos < 0 || pos > pt.Len() {
		return ot.ErrOutOfBounds
	}
	r := []rune(text)
	if len(r) == 0 {
		return nil
	}
	start := len(pt.add)
	pt.add = append(pt.add, r...)
	newPiece := piece{buf: bufAdd, offset: start, length: len(r)}

	idx, offset := pt.locate(pos)
	if idx >= len(pt.pieces) {
		pt.pieces = append(pt.pieces, newPiece)
		return nil
	}

	cur := pt.pieces[idx]
	left := piece{buf: cur.buf, offset: cur.offset, length: offset}
	right := piece{buf: cur.buf, offset: cur.offset + offset, length: cur.length - offset}

	newPieces := make([]piece, 0, len(pt.pieces)+2)
	newPieces = append(newPieces, pt.pieces[:idx]...)
	if left.length > 0 {
		newPieces = append(newPieces, left)
	}
	newPieces = append(newPieces, newPiece)
	if right.length > 0 {
		newPieces = append(newPieces, right)
	}
	newPieces = append(newPieces, pt.pieces[idx+1:]...)
	pt.pieces = newPieces
	return nil
}

// Delete 删除 [pos, pos+length)
func (pt *PieceTable) Delete(pos, length int) error {
	if pos < 0 || length < 0 || pos+length > pt.Len() {
		return ot.ErrOutOfBounds
	}
	remain := length
	idx, offset := pt.locate(pos)

	for remain > 0 && idx < len(pt.pieces) {
		cur := &pt.pieces[idx]
		can := cur.length - offset
		if can <= 0 {
			idx++
			offset = 0
			continue
		}

		take := remain
		if take > can {
			take = can
		}

		if offset == 0 && take == cur.length {
			// 整个 piece 删掉，idx 不动
			pt.pieces = append(pt.pieces[:idx], pt.pieces[idx+1:]...)
		} else {
			leftLen := offset
			rightLen := cur.length - offset - take
			newPieces := make([]piece, 0, len(pt.pieces)+1)
			newPieces = append(newPieces, pt.pieces[:idx]...)
			if leftLen > 0 {
				newPieces = append(newPieces, piece{buf: cur.buf, offset: cur.offset, length: leftLen})
			}
			if rightLen > 0 {
				newPieces = append(newPieces, piece{buf: cur.buf, offset: cur.offset + offset + take, length: rightLen})
			}
			newPieces = append(newPieces, pt.pieces[idx+1:]...)
			pt.pieces = newPieces
			if leftLen > 0 {
				idx++
			}
			offset = 0
			remain -= take
			continue
		}
		offset = 0
		remain -= take
	}
	return nil
}

// ApplyOp 按操作类型分派到 Insert/Delete；retain 为空操作
func (pt *PieceTable) ApplyOp(op ot.Op) error {
	switch op.Kind {
	case ot.KindInsert:
		return pt.Insert(op.Pos, op.Text)
	case ot.KindDelete:
		return pt.Delete(op.Pos, op.Len)
	default:
		return nil
	}
}

// locate 根据逻辑位置 pos 找到 piece 下标和片内偏移
func (pt *PieceTable) locate(pos int) (idx int, offset int) {
	cur := 0
	for i, p := range pt.pieces {
		if pos < cur+p.length {
			return i, pos - cur
		}
		cur += p.length
	}
	return len(pt.pieces), 0
}

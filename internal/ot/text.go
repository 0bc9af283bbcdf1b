package ot

import (
	"errors"
	"fmt"
)

// 操作类型，对应编辑日志中的三种变换
type Kind string

const (
	KindInsert Kind = "insert"
	KindDelete Kind = "delete"
	KindRetain Kind = "retain"
)

var ErrOutOfBounds = errors.New("operation out of bounds")

// Op 表示对文档内容的一次定位变换。
// Position 以 rune 为单位；Insert 使用 Text，Delete 使用 Len。
// Retain 不改变内容，仅作为结构化占位（心跳标记）。
type Op struct {
	Kind     Kind   `json:"kind"`
	Pos      int    `json:"position"`
	Text     string `json:"text,omitempty"`
	Len      int    `json:"length,omitempty"`
	AuthorID uint64 `json:"authorId,omitempty"`
}

// TextLen 是操作对后续位置产生的位移量
func (op Op) TextLen() int {
	switch op.Kind {
	case KindInsert:
		return len([]rune(op.Text))
	case KindDelete:
		return op.Len
	}
	return 0
}

// Validate 校验操作在长度为 n 的内容上是否越界
func (op Op) Validate(n int) error {
	if op.Pos < 0 {
		return fmt.Errorf("%w: negative position %d", ErrOutOfBounds, op.Pos)
	}
	switch op.Kind {
	case KindInsert:
		if op.Pos > n {
			return fmt.Errorf("%w: insert at %d, content length %d", ErrOutOfBounds, op.Pos, n)
		}
	case KindDelete:
		if op.Len < 0 {
			return fmt.Errorf("%w: negative delete length %d", ErrOutOfBounds, op.Len)
		}
		if op.Pos+op.Len > n {
			return fmt.Errorf("%w: delete [%d,%d), content length %d", ErrOutOfBounds, op.Pos, op.Pos+op.Len, n)
		}
	case KindRetain:
		// 内容不变，位置仅需非负
	default:
		return fmt.Errorf("unknown op kind: %q", op.Kind)
	}
	return nil
}

// Apply 把操作应用到 s，返回新内容。越界返回 ErrOutOfBounds。
func (op Op) Apply(s string) (string, error) {
	r := []rune(s)
	if err := op.Validate(len(r)); err != nil {
		return "", err
	}
	switch op.Kind {
	case KindInsert:
		return string(r[:op.Pos]) + op.Text + string(r[op.Pos:]), nil
	case KindDelete:
		return string(r[:op.Pos]) + string(r[op.Pos+op.Len:]), nil
	default: // retain
		return s, nil
	}
}

// Invert 在应用前内容 s 上求逆操作：先 Apply(op) 再 Apply(逆) 还原 s。
// delete 的逆需要被删掉的文本，所以必须拿到应用前的内容。
func (op Op) Invert(s string) (Op, error) {
	r := []rune(s)
	if err := op.Validate(len(r)); err != nil {
		return Op{}, err
	}
	switch op.Kind {
	case KindInsert:
		return Op{Kind: KindDelete, Pos: op.Pos, Len: len([]rune(op.Text)), AuthorID: op.AuthorID}, nil
	case KindDelete:
		return Op{Kind: KindInsert, Pos: op.Pos, Text: string(r[op.Pos : op.Pos+op.Len]), AuthorID: op.AuthorID}, nil
	default:
		return Op{Kind: KindRetain, Pos: op.Pos, AuthorID: op.AuthorID}, nil
	}
}

// transformInsertDelete 推导 OT 菱形的下两条边，上两条边是一个 insert 和一个 delete
func transformInsertDelete(a, b Op) (ap, bp Op) {
	switch {
	case a.Pos <= b.Pos:
		// 插入在删除区间之前，删除整体右移
		bp = b
		bp.Pos += a.TextLen()
		return a, bp
	case a.Pos >= b.Pos+b.Len:
		// 插入在删除区间之后，插入左移
		ap = a
		ap.Pos -= b.Len
		return ap, b
	default:
		// 插入落在删除区间内部：删除扩大以包含插入文本，插入塌缩为空
		ap = Op{Kind: KindInsert, Pos: b.Pos, AuthorID: a.AuthorID}
		bp = Op{Kind: KindDelete, Pos: b.Pos, Len: b.Len + a.TextLen(), AuthorID: b.AuthorID}
		return ap, bp
	}
}

// Transform 把并发的 (a, b) 变换为 (a', b')，使两侧回放收敛。
// b 具有更高优先级（已被排序落盘的一方）：
// 同位置插入时 b 的文本排在前面，a' 右移 —— 这是本仓库的同位插入决胜规则。
// Retain 不参与变换，原样返回。
func Transform(a, b Op) (ap, bp Op) {
	if a.Kind == KindRetain || b.Kind == KindRetain {
		return a, b
	}
	switch a.Kind {
	case KindInsert:
		switch b.Kind {
		case KindInsert:
			if b.Pos <= a.Pos {
				ap = a
				ap.Pos += b.TextLen()
				return ap, b
			}
			bp = b
			bp.Pos += a.TextLen()
			return a, bp
		case KindDelete:
			return transformInsertDelete(a, b)
		}
	case KindDelete:
		switch b.Kind {
		case KindInsert:
			ins, del := transformInsertDelete(b, a)
			return del, ins
		case KindDelete:
			aEnd, bEnd := a.Pos+a.Len, b.Pos+b.Len
			if aEnd <= b.Pos {
				bp = b
				bp.Pos -= a.Len
				return a, bp
			}
			if bEnd <= a.Pos {
				ap = a
				ap.Pos -= b.Len
				return ap, b
			}
			// 删除区间重叠：重叠段只删一次
			pos := minInt(a.Pos, b.Pos)
			overlap := minInt(aEnd, bEnd) - maxInt(a.Pos, b.Pos)
			ap = Op{Kind: KindDelete, Pos: pos, Len: a.Len - overlap, AuthorID: a.AuthorID}
			bp = Op{Kind: KindDelete, Pos: pos, Len: b.Len - overlap, AuthorID: b.AuthorID}
			return ap, bp
		}
	}
	return a, b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

package cache

import "fmt"

// 键语义：
// - cursorKey(docID,participantID): 成员光标/选区 JSON（String，带 TTL）
// - cursorPattern(docID):           按文档扫描光标键
// - channelKey(docID,kind):         按文档订阅的通知频道（content/op/cursor/members）

const (
	keyCursorFmt  = "collab:cursor:%s:%d"
	keyCursorScan = "collab:cursor:%s:*"
	keyChannelFmt = "collab:doc:%s:%s"
)

func cursorKey(docID string, participantID uint64) string {
	return fmt.Sprintf(keyCursorFmt, docID, participantID)
}

func cursorPattern(docID string) string { return fmt.Sprintf(keyCursorScan, docID) }

func channelKey(docID string, kind EventKind) string {
	return fmt.Sprintf(keyChannelFmt, docID, kind)
}

package service

import "coursegen_backend/internal/model"

// IsChapterUnlocked chapters 需按章节号升序。首章总是解锁；
// 其余章节在前一章已完成时解锁。目标不在列表中返回 false。
func IsChapterUnlocked(chapters []model.Chapter, completedChapterIDs []uint, targetChapterID uint) bool {
	for i, ch := range chapters {
		if ch.ID != targetChapterID {
			continue
		}
		if i == 0 {
			return true
		}
		prev := chapters[i-1].ID
		for _, id := range completedChapterIDs {
			if id == prev {
				return true
			}
		}
		return false
	}
	return false
}

// ChapterLocks 返回与 chapters 同序的锁定标记
func ChapterLocks(chapters []model.Chapter, completedChapterIDs []uint) []bool {
	locks := make([]bool, len(chapters))
	for i, ch := range chapters {
		locks[i] = !IsChapterUnlocked(chapters, completedChapterIDs, ch.ID)
	}
	return locks
}

package util

const (
	StorageLocal = "local"
	StorageMinio = "minio"
	StorageOSS   = "oss"
)

const (
	MimePDF = "application/pdf"

	// SourcePrefix 源 PDF 的对象存储前缀
	SourcePrefix = "sources"
)

// PassThreshold 章节测验与期末考试共用
const PassThreshold = 70

const (
	ChapterQuizTargetSize = 3
	FinalExamTargetSize   = 10
)

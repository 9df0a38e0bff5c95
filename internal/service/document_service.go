package service

import (
	"bytes"
	"coursegen_backend/internal/util"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// DocumentService PDF 文本抽取
type DocumentService struct{}

func NewDocumentService() *DocumentService {
	return &DocumentService{}
}

// ExtractText 校验 MIME 与页数后返回纯文本
func (s *DocumentService) ExtractText(data []byte, maxPages int) (text string, err error) {
	if _, err := util.ValidateMimeType(bytes.NewReader(data), []string{util.MimePDF}); err != nil {
		return "", util.ErrInvalidDocument
	}

	// 解析器对损坏文件可能 panic
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("%w: %v", util.ErrInvalidDocument, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", util.ErrInvalidDocument, err)
	}

	pages := reader.NumPage()
	if maxPages > 0 && pages > maxPages {
		return "", &util.DocumentTooLargeError{Pages: pages, MaxPages: maxPages}
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("%w: %v", util.ErrInvalidDocument, err)
	}
	var buf strings.Builder
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("%w: %v", util.ErrInvalidDocument, err)
	}
	return buf.String(), nil
}

package util

import (
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	htmlPolicyOnce sync.Once
	htmlPolicy     *bluemonday.Policy
)

// SanitizeHTML 清洗模型生成的章节 HTML，保留 class 以便前端渲染示例/易错块
func SanitizeHTML(raw string) string {
	htmlPolicyOnce.Do(func() {
		htmlPolicy = bluemonday.UGCPolicy()
		htmlPolicy.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("div", "span", "p")
	})
	return htmlPolicy.Sanitize(raw)
}

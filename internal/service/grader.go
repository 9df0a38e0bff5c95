package service

import (
	"bytes"
	"coursegen_backend/internal/model"
	"coursegen_backend/internal/util"
	"encoding/json"
	"math"
)

type GradeDetail struct {
	QuestionIndex int  `json:"questionIndex"`
	Provided      *int `json:"provided"`
	Correct       int  `json:"correct"`
	IsCorrect     bool `json:"isCorrect"`
}

type GradeResult struct {
	Score        int           `json:"score"`
	Passed       bool          `json:"passed"`
	Total        int           `json:"total"`
	CorrectCount int           `json:"correctCount"`
	Details      []GradeDetail `json:"details"`
}

// Grade 纯函数：缺失或越界的答案按 null 计错
func Grade(questions []model.Question, answers []*int) GradeResult {
	total := len(questions)
	details := make([]GradeDetail, total)
	correctCount := 0

	for i, q := range questions {
		var provided *int
		if i < len(answers) && answers[i] != nil {
			v := *answers[i]
			provided = &v
		}
		isCorrect := provided != nil && *provided == q.CorrectIndex
		if isCorrect {
			correctCount++
		}
		details[i] = GradeDetail{
			QuestionIndex: i,
			Provided:      provided,
			Correct:       q.CorrectIndex,
			IsCorrect:     isCorrect,
		}
	}

	score := percent(correctCount, total)
	return GradeResult{
		Score:        score,
		Passed:       score >= util.PassThreshold,
		Total:        total,
		CorrectCount: correctCount,
		Details:      details,
	}
}

// percent 四舍五入 (half-up) 的整数百分比
func percent(correct, total int) int {
	if total == 0 {
		return 0
	}
	return (200*correct + total) / (2 * total)
}

// ParseAnswers 要求 JSON 数组；非整数元素视为 null
func ParseAnswers(raw json.RawMessage) ([]*int, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, util.ErrInvalidInput
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var items []interface{}
	if err := dec.Decode(&items); err != nil {
		return nil, util.ErrInvalidInput
	}

	answers := make([]*int, len(items))
	for i, item := range items {
		n, ok := item.(json.Number)
		if !ok {
			continue
		}
		if v, ok := wholeNumber(n); ok {
			answers[i] = &v
		}
	}
	return answers, nil
}

// wholeNumber 接受 1、1.0、1e0 这类整数值，小数与越界值返回 false
func wholeNumber(n json.Number) (int, bool) {
	if v, err := n.Int64(); err == nil {
		if v < math.MinInt32 || v > math.MaxInt32 {
			return 0, false
		}
		return int(v), true
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

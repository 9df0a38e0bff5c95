package controller

import (
	"coursegen_backend/internal/service"
	"coursegen_backend/internal/util"
	"encoding/json"

	"github.com/gin-gonic/gin"
)

type AssessmentController struct {
	AssessmentService *service.AssessmentService
}

func NewAssessmentController(assessmentService *service.AssessmentService) *AssessmentController {
	return &AssessmentController{AssessmentService: assessmentService}
}

// SubmitAnswersRequest answers 为所选选项下标数组，非整数按未作答处理
// swagger:model SubmitAnswersRequest
type SubmitAnswersRequest struct {
	Answers json.RawMessage `json:"answers" swaggertype:"array,integer"`
}

// bindAnswers 解析失败时返回 nil，由业务层在鉴权之后报 InvalidInput
func bindAnswers(ctx *gin.Context) json.RawMessage {
	var req SubmitAnswersRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		return nil
	}
	return req.Answers
}

// SubmitChapterQuiz godoc
// @Summary 提交章节测验
// @Tags 测评
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   chapterId path int true "章节ID"
// @Param   body body SubmitAnswersRequest true "答案"
// @Success 200 {object} util.Response{data=service.GradeResult}
// @Failure 400 {object} util.Response "answers 不是数组"
// @Failure 401 {object} util.Response
// @Failure 403 {object} util.Response "未报名或章节未解锁"
// @Failure 404 {object} util.Response "章节或测验不存在"
// @Router /api/courses/chapters/{chapterId}/quiz/submit [post]
func (c *AssessmentController) SubmitChapterQuiz(ctx *gin.Context) {
	chapterID, ok := pathID(ctx, "chapterId")
	if !ok {
		return
	}
	answers := bindAnswers(ctx)

	result, err := c.AssessmentService.SubmitChapterQuiz(ctx.Request.Context(), util.CurrentUserID(ctx), chapterID, answers)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, result)
}

// GetExam godoc
// @Summary 获取期末考试
// @Description 返回的题目不含正确答案
// @Tags 测评
// @Produce  json
// @Security ApiKeyAuth
// @Param   courseId path int true "课程ID"
// @Success 200 {object} util.Response{data=service.ExamView}
// @Failure 401 {object} util.Response
// @Failure 403 {object} util.Response "未报名"
// @Failure 404 {object} util.Response "考试不存在"
// @Router /api/courses/{courseId}/exam [get]
func (c *AssessmentController) GetExam(ctx *gin.Context) {
	courseID, ok := pathID(ctx, "courseId")
	if !ok {
		return
	}

	exam, err := c.AssessmentService.GetExam(util.CurrentUserID(ctx), courseID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"exam": exam})
}

// SubmitFinalExam godoc
// @Summary 提交期末考试
// @Tags 测评
// @Accept  json
// @Produce  json
// @Security ApiKeyAuth
// @Param   courseId path int true "课程ID"
// @Param   body body SubmitAnswersRequest true "答案"
// @Success 200 {object} util.Response{data=service.GradeResult}
// @Failure 400 {object} util.Response "answers 不是数组"
// @Failure 401 {object} util.Response
// @Failure 403 {object} util.Response "未报名"
// @Failure 404 {object} util.Response "考试不存在"
// @Router /api/courses/{courseId}/exam/submit [post]
func (c *AssessmentController) SubmitFinalExam(ctx *gin.Context) {
	courseID, ok := pathID(ctx, "courseId")
	if !ok {
		return
	}
	answers := bindAnswers(ctx)

	result, err := c.AssessmentService.SubmitFinalExam(ctx.Request.Context(), util.CurrentUserID(ctx), courseID, answers)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, result)
}

package controller

import (
	"coursegen_backend/internal/config"
	"coursegen_backend/internal/service"
	"coursegen_backend/internal/util"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

type CourseController struct {
	CourseService     *service.CourseService
	EnrollmentService *service.EnrollmentService
	Cfg               *config.Config
}

func NewCourseController(courseService *service.CourseService, enrollmentService *service.EnrollmentService, cfg *config.Config) *CourseController {
	return &CourseController{
		CourseService:     courseService,
		EnrollmentService: enrollmentService,
		Cfg:               cfg,
	}
}

// UploadPDF godoc
// @Summary 上传 PDF 生成课程
// @Description 抽取文本后依次生成摘要、元数据、章节、章节测验与期末考试，全部成功后一次性落库并为当前用户报名
// @Tags 课程
// @Accept  multipart/form-data
// @Produce  json
// @Security ApiKeyAuth
// @Param   file formData file true "PDF 文件"
// @Success 200 {object} util.Response{data=service.GeneratedCourse} "Course generated successfully"
// @Failure 400 {object} util.Response "未上传文件 / 非 PDF / 页数超限"
// @Failure 401 {object} util.Response "需要登录"
// @Failure 409 {object} util.Response "已有生成任务在运行"
// @Failure 502 {object} util.Response "模型调用失败"
// @Failure 500 {object} util.Response "落库失败"
// @Router /api/courses/upload-pdf [post]
func (c *CourseController) UploadPDF(ctx *gin.Context) {
	file, err := ctx.FormFile("file")
	if err != nil {
		util.BadRequest(ctx, "No file uploaded")
		return
	}

	maxBytes := int64(c.Cfg.Course.MaxUploadMB) << 20
	if maxBytes > 0 && file.Size > maxBytes {
		util.BadRequest(ctx, fmt.Sprintf("File too large. Max allowed size is %d MB", c.Cfg.Course.MaxUploadMB))
		return
	}

	src, err := file.Open()
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}

	result, err := c.CourseService.GenerateFromPDF(ctx.Request.Context(), util.CurrentUserID(ctx), data)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}

	util.SuccessWithMessage(ctx, "Course generated successfully", result)
}

// GenerationStatus godoc
// @Summary 当前用户最近一次课程生成进度
// @Tags 课程
// @Produce  json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=model.GenerationProgress}
// @Failure 404 {object} util.Response "无进度记录"
// @Router /api/courses/generation/status [get]
func (c *CourseController) GenerationStatus(ctx *gin.Context) {
	progress, err := c.CourseService.GenerationStatus(ctx.Request.Context(), util.CurrentUserID(ctx))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, progress)
}

// MyCourses godoc
// @Summary 我的课程
// @Description 当前用户的全部报名，附带课程与章节引用
// @Tags 课程
// @Produce  json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=[]model.Enrollment}
// @Failure 401 {object} util.Response
// @Router /api/courses/my-courses [get]
func (c *CourseController) MyCourses(ctx *gin.Context) {
	enrollments, err := c.CourseService.ListMyCourses(util.CurrentUserID(ctx))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"enrollments": enrollments})
}

// Enroll godoc
// @Summary 报名课程
// @Tags 课程
// @Produce  json
// @Security ApiKeyAuth
// @Param   courseId path int true "课程ID"
// @Success 200 {object} util.Response{data=model.Enrollment}
// @Failure 401 {object} util.Response
// @Failure 404 {object} util.Response
// @Router /api/courses/{courseId}/enroll [post]
func (c *CourseController) Enroll(ctx *gin.Context) {
	courseID, ok := pathID(ctx, "courseId")
	if !ok {
		return
	}
	enrollment, err := c.EnrollmentService.Enroll(util.CurrentUserID(ctx), courseID)
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, enrollment)
}

// ListChapters godoc
// @Summary 课程章节
// @Description 按章节号返回章节与测验(不含答案)，缺失测验时补建空测验
// @Tags 课程
// @Produce  json
// @Security ApiKeyAuth
// @Param   courseId path int true "课程ID"
// @Success 200 {object} util.Response{data=[]service.ChapterView}
// @Failure 401 {object} util.Response
// @Router /api/courses/{courseId}/chapters [get]
func (c *CourseController) ListChapters(ctx *gin.Context) {
	courseID, ok := pathID(ctx, "courseId")
	if !ok {
		return
	}
	chapters, err := c.CourseService.ListChapters(courseID, util.CurrentUserID(ctx))
	if err != nil {
		util.HandleError(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"chapters": chapters})
}

func pathID(ctx *gin.Context, name string) (uint, bool) {
	id, ok := util.ParseID(ctx.Param(name))
	if !ok {
		util.Error(ctx, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

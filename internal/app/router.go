package app

import (
	"coursegen_backend/docs"
	"coursegen_backend/internal/config"
	"coursegen_backend/internal/middleware"
	"coursegen_backend/pkg/monitoring"
	"coursegen_backend/pkg/security"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

const uploadsPerHour = 20

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	a.registerPublicRoutes(router, c)

	// 2. 课程路由：可选认证，未登录由业务层返回 AuthRequired
	a.registerCourseRoutes(router, c, cfg)

	// 3. 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg))
	{
		authGroup.GET("/profile", c.auth.GetProfile)
	}
}

func (a *App) registerPublicRoutes(router *gin.Engine, c *controllers) {
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
		public.POST("/users", c.auth.Register)
		public.POST("/users/login", c.auth.Login)
	}
}

func (a *App) registerCourseRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	courses := router.Group("/api/courses")
	courses.Use(middleware.TryAuthMiddleware(cfg))
	{
		// 上传体积在读取 multipart 前就限制住
		maxBody := int64(cfg.Course.MaxUploadMB)<<20 + 1<<20
		courses.POST("/upload-pdf",
			security.RateLimiter(uploadsPerHour, time.Hour, middleware.UserKey),
			security.MaxBodySize(maxBody),
			c.course.UploadPDF,
		)
		courses.GET("/generation/status", c.course.GenerationStatus)
		courses.GET("/my-courses", c.course.MyCourses)

		courses.POST("/:courseId/enroll", c.course.Enroll)
		courses.GET("/:courseId/chapters", c.course.ListChapters)
		courses.GET("/:courseId/exam", c.assessment.GetExam)
		courses.POST("/:courseId/exam/submit", c.assessment.SubmitFinalExam)

		courses.POST("/chapters/:chapterId/quiz/submit", c.assessment.SubmitChapterQuiz)
	}
}

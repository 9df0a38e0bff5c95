// @title CourseGen 后端 API
// @version 1.0
// @description 从 PDF 自动生成课程、章节测验与期末考试的后端服务。
// @termsOfService http://swagger.io/terms/

// @contact.name API支持
// @contact.url http://www.swagger.io/support
// @contact.email support@swagger.io

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html

// @host localhost:8080
// @BasePath /
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name Authorization

package main

import (
	"coursegen_backend/internal/app"
	"coursegen_backend/internal/config"
	"coursegen_backend/pkg/logger"
	"flag"
	"log"
)

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name Authorization
func main() {
	configDir := flag.String("config", "configs", "配置目录，需包含 config.yaml")
	migrateOnly := flag.Bool("migrate-only", false, "建表/迁移课程、章节、测验与报名表后退出")
	migrate := flag.Bool("migrate", false, "release 模式下也执行迁移")
	backfill := flag.Bool("backfill", false, "为缺少测验的章节补建空测验后退出")
	flag.Parse()

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		log.Fatalf("Failed to load config from %s: %v", *configDir, err)
	}

	cfg.ForceMigrate = *migrate || *migrateOnly
	cfg.MigrateOnly = *migrateOnly
	cfg.BackfillOnly = *backfill

	application := app.NewApp(cfg)
	defer logger.Log.Sync()

	switch {
	case *migrateOnly:
		logger.Log.Info("Migration finished, exiting")
	case *backfill:
		application.Backfill()
	default:
		application.Run()
	}
}

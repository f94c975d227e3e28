// @title xAPI Sync Engine API
// @version 1.0
// @description 离线 xAPI/cmi5 statement 同步引擎。

// @contact.name API支持
// @contact.email support@lms.example.com

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html

// @host localhost:8080
// @BasePath /api
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

package main

import (
	"flag"
	"log"

	"xapi_sync_backend/internal/app"
	"xapi_sync_backend/internal/config"
	"xapi_sync_backend/pkg/configwatcher"
	"xapi_sync_backend/pkg/logger"
)

func main() {
	configPath := flag.String("config", "configs", "配置文件目录")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	application := app.NewApp(cfg)
	defer logger.Log.Sync()

	// 配置热加载：低电量模式等同步参数变化时生效
	go configwatcher.WatchConfig(*configPath, func(newCfg *config.Config) {
		application.ApplyConfig(newCfg)
	})

	application.Run()
}

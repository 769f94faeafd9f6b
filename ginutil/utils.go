package ginutil

import (
	"net/http"

	"github.com/YiuTerran/go-gamenet/base/log"
	"github.com/gin-gonic/gin"
)

/**
  *  @author tryao
  *  @date 2022/07/25 15:58
**/

// InitRouter 创建一个激活常用配置的router
// 这里没有注入prometheus，因为不一定会使用
func InitRouter(skipLogPaths ...string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(AccessLogHandler(skipLogPaths...))
	router.Use(RecoveryHandler())
	EnableLogSwitch(router)
	return router
}

// EnableLogSwitch PUT /log/level?level=debug 运行时切换日志级别
func EnableLogSwitch(router gin.IRouter) {
	router.PUT("/log/level", func(c *gin.Context) {
		level := log.Level(c.Query("level"))
		switch level {
		case log.LevelDebug, log.LevelInfo, log.LevelWarn, log.LevelError:
			log.ChangeLogLevel(level)
			c.JSON(http.StatusOK, gin.H{"level": level})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown level " + string(level)})
		}
	})
}

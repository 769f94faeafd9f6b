package ginutil

/**  gin日志的一些简单封装
  *  @author tryao
  *  @date 2022/03/22 14:50
**/

import (
	"errors"
	"net"
	"net/http"
	"net/http/httputil"
	"os"
	"strings"
	"time"

	"github.com/YiuTerran/go-gamenet/base/log"
	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

// AccessLogHandler 以debug级别记录访问日志，skipPath中的路径不记录
func AccessLogHandler(skipPath ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		// some evil middlewares modify this values
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery
		c.Next()

		if lo.Contains(skipPath, path) {
			return
		}
		if len(c.Errors) > 0 {
			for _, e := range c.Errors.Errors() {
				log.Error("%s", e)
			}
			return
		}
		log.Debug("%s %s Q:%s ST:%d IP:%s UA:%s LAT:%s", c.Request.Method, path, query, c.Writer.Status(),
			c.ClientIP(), c.Request.UserAgent(), time.Since(start))
	}
}

func isBrokenPipe(err any) bool {
	e, ok := err.(error)
	if !ok {
		return false
	}
	var ne *net.OpError
	if !errors.As(e, &ne) {
		return false
	}
	var se *os.SyscallError
	if !errors.As(ne.Err, &se) {
		return false
	}
	msg := strings.ToLower(se.Error())
	return strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset by peer")
}

func RecoveryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				httpRequest, _ := httputil.DumpRequest(c.Request, false)
				// 连接已经断了，写不了状态码
				if isBrokenPipe(err) {
					log.Error("panic when request %s, error:%s, req:%s", c.Request.URL.Path, err, httpRequest)
					_ = c.Error(err.(error)) // nolint: err check
					c.Abort()
					return
				}
				log.PanicStack("gin panic, request: "+string(httpRequest), err)
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

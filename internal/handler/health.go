package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/richoz-sanitaire/intervention-service/internal/database"
	"gorm.io/gorm"
)

const serviceName = "intervention-service"

func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": serviceName,
		"time":    time.Now().Unix(),
	})
}

// Ready отвечает 503, пока база недоступна.
func Ready(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db == nil || database.Ping(db) != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

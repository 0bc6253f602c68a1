package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/dugout-developers/catchmate-server/pkg/errors"
	"github.com/dugout-developers/catchmate-server/pkg/response"
)

// Health returns a status payload useful for readiness checks. The database
// is pinged so a wedged connection pool fails the probe.
func Health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(requestContext(c))
		}
		if err != nil {
			response.Error(c, errors.ErrStorageUnavailable)
			return
		}
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	}
}

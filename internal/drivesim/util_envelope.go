package drivesim

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

func respond(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"status": http.StatusOK, "code": 0, "message": "ok", "data": data})
}

// respondError answers with HTTP 200 and a non-zero envelope code, which is
// how the production service reports business failures.
func respondError(c *gin.Context, err error) {
	var biz *businessError
	if errors.As(err, &biz) {
		c.JSON(http.StatusOK, gin.H{"status": biz.code, "code": biz.code, "message": biz.message})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func respondOutage(c *gin.Context) {
	c.JSON(http.StatusInternalServerError, gin.H{"error": "simulated outage"})
}

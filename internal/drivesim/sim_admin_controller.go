package drivesim

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// simAdminController is the operator surface of the simulator: scripting
// outages and resetting state between scenarios. It is not part of the
// drive API and carries no cookie check.
type simAdminController struct{ store *Store }

func NewSimAdminController(store *Store) *simAdminController {
	return &simAdminController{store}
}

type failReq struct {
	Op    string `json:"op" binding:"required"`
	Times int    `json:"times"`
}

func (h *simAdminController) HandleFail(c *gin.Context) {
	var req failReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if req.Times <= 0 {
		req.Times = 1
	}
	h.store.FailNext(req.Op, req.Times)
	c.JSON(http.StatusOK, gin.H{"op": req.Op, "times": req.Times})
}

func (h *simAdminController) HandleReset(c *gin.Context) {
	h.store.Reset()
	c.Status(http.StatusNoContent)
}

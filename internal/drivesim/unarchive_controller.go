package drivesim

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type unarchiveController struct{ store *Store }

func NewUnarchiveController(store *Store) *unarchiveController {
	return &unarchiveController{store}
}

type unarchiveReq struct {
	Fid       string `json:"fid" binding:"required"`
	ToPdirFid string `json:"to_pdir_fid" binding:"required"`
	Pwd       string `json:"pwd"`
}

func (h *unarchiveController) Handle(c *gin.Context) {
	if h.store.TakeOutage("unarchive") {
		respondOutage(c)
		return
	}
	var req unarchiveReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	taskID, err := h.store.Unarchive(req.Fid, req.ToPdirFid)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, gin.H{"task_id": taskID})
}

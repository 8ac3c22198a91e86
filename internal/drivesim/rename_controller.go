package drivesim

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type renameController struct{ store *Store }

func NewRenameController(store *Store) *renameController {
	return &renameController{store}
}

type renameReq struct {
	Fid      string `json:"fid" binding:"required"`
	FileName string `json:"file_name" binding:"required"`
}

func (h *renameController) Handle(c *gin.Context) {
	if h.store.TakeOutage("rename") {
		respondOutage(c)
		return
	}
	var req renameReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if err := h.store.Rename(req.Fid, req.FileName); err != nil {
		respondError(c, err)
		return
	}
	respond(c, gin.H{})
}

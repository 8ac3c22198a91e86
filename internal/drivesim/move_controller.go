package drivesim

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type moveController struct{ store *Store }

func NewMoveController(store *Store) *moveController {
	return &moveController{store}
}

type moveReq struct {
	ActionType  int      `json:"action_type"`
	Filelist    []string `json:"filelist" binding:"required"`
	ToPdirFid   string   `json:"to_pdir_fid" binding:"required"`
	ExcludeFids []string `json:"exclude_fids"`
}

func (h *moveController) Handle(c *gin.Context) {
	if h.store.TakeOutage("move") {
		respondOutage(c)
		return
	}
	var req moveReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if err := h.store.Move(req.Filelist, req.ToPdirFid); err != nil {
		respondError(c, err)
		return
	}
	respond(c, gin.H{})
}

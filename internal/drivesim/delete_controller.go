package drivesim

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type deleteController struct{ store *Store }

func NewDeleteController(store *Store) *deleteController {
	return &deleteController{store}
}

type deleteReq struct {
	ActionType  int      `json:"action_type"`
	Filelist    []string `json:"filelist" binding:"required"`
	ExcludeFids []string `json:"exclude_fids"`
}

func (h *deleteController) Handle(c *gin.Context) {
	if h.store.TakeOutage("delete") {
		respondOutage(c)
		return
	}
	var req deleteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if err := h.store.Delete(req.Filelist); err != nil {
		respondError(c, err)
		return
	}
	respond(c, gin.H{})
}

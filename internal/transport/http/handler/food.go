package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"glucomate/internal/app"
	"glucomate/internal/transport/http/response"
)

type FoodHandler struct {
	foodService *app.FoodService
}

func NewFoodHandler(foodService *app.FoodService) *FoodHandler {
	return &FoodHandler{foodService: foodService}
}

func (h *FoodHandler) Search(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil {
		limit = 20
	}
	response.OK(c, h.foodService.Search(c.Query("q"), limit))
}

func (h *FoodHandler) Get(c *gin.Context) {
	food, err := h.foodService.Get(c.Param("name"))
	if err != nil {
		writeError(c, err, "get food failed")
		return
	}
	response.OK(c, food)
}

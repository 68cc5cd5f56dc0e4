package api

import (
	"context"
	"net/http"

	"greenhouse/internal/conditional"
	store "greenhouse/internal/redis"
	"greenhouse/internal/web/middleware"
	"greenhouse/internal/web/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// FunctionPage is where every rule edit redirects to
const FunctionPage = "/function"

type idForm struct {
	FunctionID string `form:"function_id" binding:"required"`
}

type functionHandler struct {
	editor  *conditional.Editor
	flashes *store.FlashStore
	log     *zap.Logger
}

// respond stores the notices and the aggregated result as flashes, then
// redirects to the listing.
func (h *functionHandler) respond(c *gin.Context, out *conditional.Outcome) {
	var pending []store.Flash
	for _, n := range out.Notices {
		pending = append(pending, store.Flash{Category: conditional.CategoryInfo, Message: n})
	}
	category, msg := out.Summary()
	pending = append(pending, store.Flash{Category: category, Message: msg})
	if err := h.flashes.Push(c, c.GetString("user_id"), pending...); err != nil {
		h.log.Warn("storing flash", zap.Error(err))
	}
	c.Redirect(http.StatusSeeOther, FunctionPage)
}

// formHandler binds F from the submitted form and runs op with it
func formHandler[F any](h *functionHandler, action string, op func(context.Context, F) *conditional.Outcome) gin.HandlerFunc {
	return func(c *gin.Context) {
		var form F
		if err := c.ShouldBind(&form); err != nil {
			h.respond(c, &conditional.Outcome{
				Action: action,
				Errors: []error{&conditional.ValidationError{Msg: "Invalid form: " + err.Error()}},
			})
			return
		}
		h.respond(c, op(c.Request.Context(), form))
	}
}

func byID(op func(context.Context, string) *conditional.Outcome) func(context.Context, idForm) *conditional.Outcome {
	return func(ctx context.Context, f idForm) *conditional.Outcome {
		return op(ctx, f.FunctionID)
	}
}

func (h *functionHandler) list(c *gin.Context) {
	list, err := h.editor.List(c)
	if err != nil {
		h.log.Error("listing conditionals", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list conditionals"})
		return
	}
	popped, err := h.flashes.Pop(c, c.GetString("user_id"))
	if err != nil {
		h.log.Warn("reading flashes", zap.Error(err))
	}
	out := make([]models.Flash, 0, len(popped))
	for _, f := range popped {
		out = append(out, models.Flash{Category: f.Category, Message: f.Message})
	}
	c.JSON(http.StatusOK, gin.H{"conditionals": list, "flashes": out})
}

// RegisterFunctionRoutes mounts the Conditional editor. Each POST handles one
// form, stores one aggregated flash and redirects to the listing.
func RegisterFunctionRoutes(r *gin.Engine, middleware *middleware.MiddlewareManager, editor *conditional.Editor, flashes *store.FlashStore, log *zap.Logger) {
	h := &functionHandler{editor: editor, flashes: flashes, log: log}

	fn := r.Group(FunctionPage)
	fn.Use(middleware.RequireAuth())
	{
		fn.GET("", h.list)

		fn.POST("/conditional/add", formHandler(h, conditional.OpAdd, editor.Add))
		fn.POST("/conditional/mod", formHandler(h, conditional.OpModify, editor.Modify))
		fn.POST("/conditional/delete", formHandler(h, conditional.OpDelete, byID(editor.Delete)))
		fn.POST("/conditional/activate", formHandler(h, conditional.OpActivate, byID(editor.Activate)))
		fn.POST("/conditional/deactivate", formHandler(h, conditional.OpDeactivate, byID(editor.Deactivate)))

		fn.POST("/condition/add", formHandler(h, conditional.OpAddCondition, editor.AddCondition))
		fn.POST("/condition/mod", formHandler(h, conditional.OpModifyCondition, editor.ModifyCondition))
		fn.POST("/condition/delete", formHandler(h, conditional.OpDeleteCondition, editor.DeleteCondition))

		fn.POST("/action/add", formHandler(h, conditional.OpAddAction, editor.AddAction))
		fn.POST("/action/mod", formHandler(h, conditional.OpModifyAction, editor.ModifyAction))
		fn.POST("/action/delete", formHandler(h, conditional.OpDeleteAction, editor.DeleteAction))
	}
}

// export.go serves the role export in JSON or CSV. CSV flattens the matrix to
// one module.action column per capability bit.
package roles

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/propty-os/access-engine/internal/db/models"
	"github.com/propty-os/access-engine/internal/db/repositories"
	"github.com/propty-os/access-engine/internal/middleware"
)

// ExportHandler streams every role of the company as JSON or CSV.
// GET /api/v1/companies/:companyId/roles/export?format=json|csv
func (h *Handlers) ExportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID, companyID, _, _ := middleware.ActorContext(c)

		format := c.DefaultQuery("format", "json")
		if format != "json" && format != "csv" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "format must be json or csv", "code": "VALIDATION_ERROR"})
			return
		}

		// Exports skip pagination; the role count per company is small and
		// bounded in practice.
		list, _, err := h.repo.List(c.Request.Context(), companyID, repositories.RoleFilters{}, 1000, 0)
		if err != nil {
			writeError(c, err)
			return
		}

		h.audit(c, models.ActionExport, "roles", map[string]interface{}{
			"format": format,
			"count":  len(list),
			"actor":  actorID,
		})

		filename := fmt.Sprintf("roles-%s.%s", time.Now().Format("2006-01-02"), format)
		c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)

		if format == "json" {
			c.JSON(http.StatusOK, gin.H{"roles": list})
			return
		}

		c.Header("Content-Type", "text/csv")
		c.Status(http.StatusOK)
		w := csv.NewWriter(c.Writer)
		defer w.Flush()

		header := []string{"id", "name", "level", "isDefault", "isActive", "createdAt"}
		for _, module := range models.AllModules {
			for _, action := range models.AllActions {
				header = append(header, string(module)+"."+string(action))
			}
		}
		if err := w.Write(header); err != nil {
			return
		}

		for _, role := range list {
			row := []string{
				role.ID,
				role.Name,
				string(role.Level),
				strconv.FormatBool(role.IsDefault),
				strconv.FormatBool(role.IsActive),
				role.CreatedAt.Format(time.RFC3339),
			}
			for _, module := range models.AllModules {
				for _, action := range models.AllActions {
					row = append(row, strconv.FormatBool(role.Permissions.Allows(module, action)))
				}
			}
			if err := w.Write(row); err != nil {
				return
			}
		}
	}
}

package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) ListPackages(c *gin.Context) {
	packages := s.catalog.List()

	out := make([]gin.H, 0, len(packages))
	for _, pkg := range packages {
		out = append(out, gin.H{
			"id":           pkg.ID,
			"label":        pkg.Label,
			"amountMinor":  pkg.AmountMinor,
			"currency":     pkg.Currency,
			"baseCredits":  pkg.BaseCredits,
			"bonusCredits": pkg.BonusCredits,
			"totalCredits": pkg.TotalCredits(),
		})
	}

	c.JSON(http.StatusOK, gin.H{"packages": out})
}

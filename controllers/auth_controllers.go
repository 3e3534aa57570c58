package controllers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yeremiapane/tablesync/utils"
)

type AuthController struct{}

func NewAuthController() *AuthController {
	return &AuthController{}
}

// Logout -> revoke the caller's token ahead of its natural expiry. Token
// issuance stays with the external identity system; revocation has to live
// here because only this engine validates tokens on its routes.
func (ac *AuthController) Logout(c *gin.Context) {
	token := c.GetHeader("Authorization")
	if token == "" {
		token = c.Query("token")
	}
	token = strings.TrimPrefix(token, "Bearer ")

	utils.BlacklistToken(token)
	utils.InfoLogger.Println("Token revoked via logout")
	utils.RespondJSON(c, http.StatusOK, "Logged out", nil)
}

// Package httptool exposes the three vault operations over the HTTP tool
// protocol, plus the observability endpoints of §6.5.
package httptool

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cryptolabinc/rune-vault/internal/auth"
	"github.com/cryptolabinc/rune-vault/internal/health"
	"github.com/cryptolabinc/rune-vault/internal/security"
	"github.com/cryptolabinc/rune-vault/internal/vaultservice"
)

const transportName = "http"

type getPublicKeyRequest struct {
	Token string `json:"token" binding:"required"`
}

type decryptScoresRequest struct {
	Token            string `json:"token" binding:"required"`
	EncryptedBlobB64 string `json:"encrypted_blob_b64"`
	TopK             int    `json:"top_k"`
}

type decryptMetadataRequest struct {
	Token                 string   `json:"token" binding:"required"`
	EncryptedMetadataList []string `json:"encrypted_metadata_list"`
}

// Mux builds the gin engine serving both the tool routes and the
// observability endpoints. checker is nil-able: when nil, /health and
// /status answer 200 "healthy" without checking keys or sampling CPU/mem/disk.
func Mux(svc *vaultservice.Service, checker *health.Checker) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(security.MetricsMiddleware())
	r.Use(security.AccessLogMiddleware("/health", "/health/ready", "/health/live", "/metrics"))

	r.POST("/tools/get_public_key", handleGetPublicKey(svc))
	r.POST("/tools/decrypt_scores", handleDecryptScores(svc))
	r.POST("/tools/decrypt_metadata", handleDecryptMetadata(svc))

	registerObservability(r, checker)
	return r
}

func handleGetPublicKey(svc *vaultservice.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req getPublicKeyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		writeResult(c, svc.GetPublicKey(c.Request.Context(), transportName, req.Token))
	}
}

func handleDecryptScores(svc *vaultservice.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req decryptScoresRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		topK := req.TopK
		if topK == 0 {
			topK = vaultservice.DefaultTopK
		}
		writeResult(c, svc.DecryptScores(c.Request.Context(), transportName, req.Token, req.EncryptedBlobB64, topK))
	}
}

func handleDecryptMetadata(svc *vaultservice.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req decryptMetadataRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		writeResult(c, svc.DecryptMetadata(c.Request.Context(), transportName, req.Token, req.EncryptedMetadataList))
	}
}

// writeResult maps a (jsonString, error) pair from the service layer onto an
// HTTP response: thrown Unauthenticated/RateLimited errors become 401 with a
// structured error body (optionally carrying Retry-After); everything else —
// including soft errors — is success-shaped at the transport level, per the
// documented thrown-vs-soft-error asymmetry.
func writeResult(c *gin.Context, jsonBody string, err error) {
	if err != nil {
		if rl, ok := auth.IsRateLimited(err); ok {
			c.Header("Retry-After", strconv.Itoa(rl.RetryAfter))
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(jsonBody))
}

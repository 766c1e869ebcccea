package handlers

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/PratikDhanave/exposure-ingest/internal/ingest"
)

// RegisterIngestRoutes registers the file ingestion endpoint.
//
// POST /ingest (multipart)
// - file: scanner output (.xml, .json, optionally .gz)
// - office_id, scanner_id: required form fields
// - scanner_type: optional, defaults to nmap
func RegisterIngestRoutes(r gin.IRoutes, svc *ingest.Service) {
	r.POST("/ingest", func(c *gin.Context) {
		fh, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}
		officeID := c.PostForm("office_id")
		scannerID := c.PostForm("scanner_id")
		if officeID == "" || scannerID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "office_id and scanner_id are required"})
			return
		}
		scannerType := c.DefaultPostForm("scanner_type", "nmap")

		// Spool to a temp file keeping the original extension, since
		// compressed uploads are recognized by suffix.
		tmp, err := os.CreateTemp("", "upload-*"+filepath.Ext(fh.Filename))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "cannot spool upload"})
			return
		}
		tmp.Close()
		defer os.Remove(tmp.Name())

		if err := c.SaveUploadedFile(fh, tmp.Name()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "cannot spool upload"})
			return
		}

		summary, err := svc.IngestFile(c.Request.Context(), tmp.Name(), officeID, scannerID, scannerType)
		if err != nil {
			kind := ingest.KindOf(err)
			log.WithError(err).WithFields(log.Fields{
				"file":       fh.Filename,
				"office_id":  officeID,
				"error_kind": string(kind),
			}).Warn("ingest request failed")
			c.JSON(statusForKind(kind), gin.H{
				"status":     "error",
				"error":      err.Error(),
				"error_kind": string(kind),
			})
			return
		}

		// Report the client's filename, not the spool path.
		summary.File = fh.Filename
		c.JSON(http.StatusOK, summary)
	})
}

// statusForKind maps failure kinds to HTTP statuses. Everything the client
// controls is a 400; only storage faults are server errors.
func statusForKind(kind ingest.Kind) int {
	switch kind {
	case ingest.KindStorage:
		return http.StatusInternalServerError
	case ingest.KindInput, ingest.KindSecurity, ingest.KindParse,
		ingest.KindValidation, ingest.KindConfig:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

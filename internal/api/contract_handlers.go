package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"contractflow/internal/logger"
	"contractflow/internal/pipeline"
	"contractflow/internal/service/contracts"

	"github.com/gin-gonic/gin"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (h *Handler) uploadContract(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	// room for the multipart framing and the provider field
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.MaxUploadBytes+1<<20)
	if err := c.Request.ParseMultipartForm(h.opts.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	defer file.Close()
	provider := strings.TrimSpace(c.Request.PostFormValue("ai_provider"))
	if provider == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ai_provider is required"})
		return
	}
	content, err := io.ReadAll(io.LimitReader(file, h.opts.MaxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read file failed"})
		return
	}
	if int64(len(content)) > h.opts.MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}

	run, err := h.ingestor.Start(c.Request.Context(), pipeline.Request{
		Owner:    user,
		Filename: filepath.Base(header.Filename),
		Content:  content,
		Provider: provider,
	})
	if err != nil {
		if errors.Is(err, pipeline.ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logger.FromContext(c.Request.Context()).Error("start ingestion", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not record upload"})
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusAccepted)

	sendEvent := func(text string) error {
		if err := writeSSEData(c.Writer, text); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
	// the run keeps going when the client leaves; only the stream stops
	for {
		select {
		case <-c.Request.Context().Done():
			logger.FromContext(c.Request.Context()).Info("upload stream closed by client", "contract_id", run.Contract.ID)
			return
		case ev, open := <-run.Events():
			if !open {
				return
			}
			if err := sendEvent(ev.Text); err != nil {
				return
			}
		}
	}
}

var sseLineBreaks = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// writeSSEData frames text as one event. Each line of a multi-line text gets
// its own data field so clients rejoin them with newlines.
func writeSSEData(w io.Writer, text string) error {
	var b strings.Builder
	for _, line := range strings.Split(sseLineBreaks.Replace(text), "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	_, err := io.WriteString(w, b.String())
	return err
}

func (h *Handler) listContracts(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	list, err := h.contracts.List(c.Request.Context(), user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) contractStats(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	stats, err := h.contracts.Stats(c.Request.Context(), user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) exportContracts(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	data, err := h.contracts.ExportXLSX(c.Request.Context(), user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}
	name := fmt.Sprintf("contracts-%s.xlsx", time.Now().UTC().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	c.Data(http.StatusOK, xlsxContentType, data)
}

func (h *Handler) getContract(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	contract, err := h.contracts.Detail(c.Request.Context(), user, id)
	if err != nil {
		writeContractError(c, err)
		return
	}
	c.JSON(http.StatusOK, contract)
}

func (h *Handler) deleteContract(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.contracts.SoftDelete(c.Request.Context(), user, id); err != nil {
		writeContractError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func writeContractError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, contracts.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "contract not found"})
	case errors.Is(err, contracts.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "not allowed to access this contract"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

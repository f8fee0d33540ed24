// Package httpapi exposes the storage server over HTTP.
package httpapi

import (
	"archive/zip"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	bridge "github.com/prife/ftpbridge"
	"github.com/prife/ftpbridge/internal/events"
	"github.com/prife/ftpbridge/internal/listcache"
	"github.com/prife/ftpbridge/services"
	"github.com/prife/ftpbridge/wire"
	"github.com/sirupsen/logrus"
)

// Options configures a Handler. Bridge is required.
type Options struct {
	// Bridge talks to the default storage server. Requests may name another
	// one with the ftpServer and ftpPort parameters.
	Bridge *bridge.Bridge
	Cache  listcache.Cache
	Events events.Publisher
	// ScratchDir holds the per-request upload directories, system temp dir
	// if empty.
	ScratchDir     string
	MaxUploadFiles int
	// Monitor, when set, answers /health with the last background probe
	// result instead of greeting the server on every request.
	Monitor *services.Monitor
	Logger  logrus.FieldLogger
}

type Handler struct {
	bridge         *bridge.Bridge
	cache          listcache.Cache
	events         events.Publisher
	scratchDir     string
	maxUploadFiles int
	monitor        *services.Monitor
	log            logrus.FieldLogger
}

func NewHandler(opts Options) *Handler {
	h := &Handler{
		bridge:         opts.Bridge,
		cache:          opts.Cache,
		events:         opts.Events,
		scratchDir:     opts.ScratchDir,
		maxUploadFiles: opts.MaxUploadFiles,
		monitor:        opts.Monitor,
		log:            opts.Logger,
	}
	if h.cache == nil {
		h.cache = listcache.Nop{}
	}
	if h.events == nil {
		h.events = events.Nop{}
	}
	if h.maxUploadFiles <= 0 {
		h.maxUploadFiles = 100
	}
	if h.log == nil {
		h.log = logrus.StandardLogger()
	}
	return h
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/health", h.Health)
	r.GET("/list/:userId", h.List)
	r.GET("/file/:userId/:filename", h.FileViaBatch)
	r.GET("/download/:userId/:filename", h.Download)
	r.GET("/archive/:userId", h.Archive)
	r.POST("/upload", h.UploadBatch)
	r.POST("/upload/:userId", h.Upload)
	r.DELETE("/file/:userId/:filename", h.Delete)
}

// target returns the bridge for the server named by the request, or the
// default one.
func (h *Handler) target(c *gin.Context) (*bridge.Bridge, error) {
	host := c.Query("ftpServer")
	if host == "" {
		host = c.PostForm("ftpServer")
	}
	port := c.Query("ftpPort")
	if port == "" {
		port = c.PostForm("ftpPort")
	}
	if host == "" && port == "" {
		return h.bridge, nil
	}

	config := h.bridge.Config()
	if host == "" {
		host = config.Host
	}
	p := config.Port
	if port != "" {
		n, err := strconv.Atoi(port)
		if err != nil || n <= 0 || n > 65535 {
			return nil, fmt.Errorf("%w: invalid ftpPort %q", wire.ErrAssertion, port)
		}
		p = n
	}
	return h.bridge.WithServer(host, p)
}

func (h *Handler) publish(kind events.Kind, b *bridge.Bridge, user, name string, size int64) {
	h.events.Publish(events.Event{
		Kind:   kind,
		Server: b.Address(),
		User:   user,
		File:   name,
		Size:   size,
		Time:   time.Now(),
	})
}

func (h *Handler) invalidate(ctx context.Context, b *bridge.Bridge, user string) {
	if err := h.cache.Invalidate(context.WithoutCancel(ctx), listcache.Key(b.Address(), user)); err != nil {
		h.log.WithError(err).WithField("user", user).Warn("could not invalidate listing")
	}
}

func (h *Handler) Health(c *gin.Context) {
	st, ok := h.lastStatus()
	if !ok {
		st = services.ProbeOnce(c.Request.Context(), h.bridge)
	}
	code := http.StatusOK
	if !st.Reachable {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, st)
}

func (h *Handler) lastStatus() (services.Status, bool) {
	if h.monitor == nil {
		return services.Status{}, false
	}
	st, ok := h.monitor.Last()
	if !ok || st.Server != h.bridge.Address() {
		return services.Status{}, false
	}
	return st, true
}

func (h *Handler) List(c *gin.Context) {
	user := c.Param("userId")
	b, err := h.target(c)
	if err != nil {
		abortWithError(c, err, "Missing FTP server information")
		return
	}

	ctx := c.Request.Context()
	files, err := h.cache.GetOrFetch(ctx, listcache.Key(b.Address(), user), func(ctx context.Context) ([]string, error) {
		return b.List(ctx, user)
	})
	if err != nil {
		abortWithError(c, err, "Failed to list files from FTP server")
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

func setFileHeaders(c *gin.Context, info bridge.FileInfo) {
	c.Header("Content-Type", info.ContentType)
	c.Header("Content-Length", strconv.FormatInt(info.Size, 10))
	c.Header("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": info.Name}))
}

// clearFileHeaders removes what setFileHeaders set, for error responses
// written before any file byte went out.
func clearFileHeaders(c *gin.Context) {
	h := c.Writer.Header()
	h.Del("Content-Type")
	h.Del("Content-Length")
	h.Del("Content-Disposition")
}

// deferredWriter commits the response headers and the status with the first
// byte written, so a failure before that can still be answered with an error.
type deferredWriter struct {
	c       *gin.Context
	headers func(c *gin.Context)
	started bool
}

func newDeferredWriter(c *gin.Context, headers func(c *gin.Context)) *deferredWriter {
	return &deferredWriter{c: c, headers: headers}
}

func (w *deferredWriter) start() {
	if w.started {
		return
	}
	w.started = true
	w.headers(w.c)
	w.c.Status(http.StatusOK)
	w.c.Writer.WriteHeaderNow()
}

func (w *deferredWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	w.start()
	return w.c.Writer.Write(p)
}

// FileViaBatch serves one file by walking the user's whole directory.
func (h *Handler) FileViaBatch(c *gin.Context) {
	user, name := c.Param("userId"), c.Param("filename")
	b, err := h.target(c)
	if err != nil {
		abortWithError(c, err, "Missing FTP server information")
		return
	}

	var (
		size int64
		w    *deferredWriter
	)
	err = b.FetchViaBatch(c.Request.Context(), user, name, func(info bridge.FileInfo) (io.Writer, error) {
		size = info.Size
		w = newDeferredWriter(c, func(c *gin.Context) { setFileHeaders(c, info) })
		return w, nil
	})
	if err != nil {
		if c.Writer.Written() {
			h.log.WithError(err).WithField("file", name).Error("download interrupted")
			c.Abort()
			return
		}
		clearFileHeaders(c)
		if bridge.IsNotFound(err) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Requested file not found on server"})
			return
		}
		abortWithError(c, err, "Failed to download file from FTP server")
		return
	}
	// empty files never call Write
	w.start()
	h.publish(events.Downloaded, b, user, name, size)
}

// Download serves one file with a direct download.
func (h *Handler) Download(c *gin.Context) {
	user, name := c.Param("userId"), c.Param("filename")
	b, err := h.target(c)
	if err != nil {
		abortWithError(c, err, "Missing FTP server information")
		return
	}

	d, err := b.Fetch(c.Request.Context(), user, name, nil)
	if err != nil {
		if bridge.IsNotFound(err) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Requested file not found on server"})
			return
		}
		abortWithError(c, err, "Failed to download file from FTP server")
		return
	}
	defer d.Close()

	body := bufio.NewReader(d)
	if d.Size > 0 {
		if _, err := body.Peek(1); err != nil {
			abortWithError(c, err, "Failed to download file from FTP server")
			return
		}
	}
	setFileHeaders(c, d.FileInfo)
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, body); err != nil {
		h.log.WithError(err).WithField("file", name).Errorf("download interrupted after %d of %d bytes", d.Transferred(), d.Size)
		c.Abort()
		return
	}
	h.publish(events.Downloaded, b, user, name, d.Size)
}

// Archive streams every file of the user as a zip archive. Once the archive
// is complete every file in it is published as downloaded.
func (h *Handler) Archive(c *gin.Context) {
	user := c.Param("userId")
	b, err := h.target(c)
	if err != nil {
		abortWithError(c, err, "Missing FTP server information")
		return
	}

	out := newDeferredWriter(c, func(c *gin.Context) {
		c.Header("Content-Type", "application/zip")
		c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": user + ".zip"}))
	})
	zw := zip.NewWriter(out)
	var served []bridge.FileInfo
	n, err := b.FetchAll(c.Request.Context(), user, nil, func(desc *wire.TransferDescriptor, r io.Reader) error {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     desc.Name,
			Method:   zip.Store,
			Modified: time.Now(),
		})
		if err != nil {
			return err
		}
		if _, err := io.Copy(w, r); err != nil {
			return err
		}
		served = append(served, bridge.FileInfo{Name: desc.Name, Size: desc.Size})
		return nil
	})
	if err == nil && n > 0 {
		err = zw.Close()
	}
	if err != nil {
		if c.Writer.Written() {
			h.log.WithError(err).WithField("user", user).Errorf("archive interrupted after %d files", len(served))
			c.Abort()
			return
		}
		abortWithError(c, err, "Failed to download files from FTP server")
		return
	}
	if n == 0 {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "No files found on server"})
		return
	}
	for _, info := range served {
		h.publish(events.Downloaded, b, user, info.Name, info.Size)
	}
}

// saveUploads copies the multipart files into scratch. A file that cannot be
// saved keeps its slot with an empty path, so the upload reports it as failed.
func (h *Handler) saveUploads(scratch *bridge.Scratch, headers []*multipart.FileHeader) []bridge.LocalFile {
	files := make([]bridge.LocalFile, 0, len(headers))
	for _, fh := range headers {
		lf := bridge.LocalFile{Name: fh.Filename}
		src, err := fh.Open()
		if err == nil {
			lf, err = scratch.Save(fh.Filename, src)
			src.Close()
		}
		if err != nil {
			h.log.WithError(err).WithField("file", fh.Filename).Warn("could not store upload")
			lf = bridge.LocalFile{Name: fh.Filename}
		}
		files = append(files, lf)
	}
	return files
}

func (h *Handler) respondReport(c *gin.Context, b *bridge.Bridge, user string, report bridge.UploadReport, err error) {
	if report.FilesUploaded > 0 {
		h.invalidate(c.Request.Context(), b, user)
		for _, res := range report.Results {
			if res.Success {
				h.publish(events.Uploaded, b, user, res.Name, res.Size)
			}
		}
	}
	if err == nil {
		c.JSON(http.StatusOK, report)
		return
	}
	if report.Message == "" {
		report.Message = "Failed to upload files to FTP server"
	}
	c.JSON(statusFor(err), gin.H{
		"success":       false,
		"message":       report.Message,
		"filesUploaded": report.FilesUploaded,
		"results":       report.Results,
		"error":         err.Error(),
	})
}

// UploadBatch stores the multipart "files" for the form's userId in one batch.
func (h *Handler) UploadBatch(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "No files uploaded"})
		return
	}
	var headers []*multipart.FileHeader
	headers = append(headers, form.File["files"]...)
	headers = append(headers, form.File["files[]"]...)
	if len(headers) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "No files uploaded"})
		return
	}
	if len(headers) > h.maxUploadFiles {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Too many files, at most %d per upload", h.maxUploadFiles)})
		return
	}
	user := c.PostForm("userId")
	if user == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Missing FTP server information or user ID"})
		return
	}
	b, err := h.target(c)
	if err != nil {
		abortWithError(c, err, "Missing FTP server information or user ID")
		return
	}

	scratch, err := bridge.NewScratch(h.scratchDir, h.log)
	if err != nil {
		abortWithError(c, err, "Failed to upload files to FTP server")
		return
	}
	defer scratch.Close()

	files := h.saveUploads(scratch, headers)
	report, err := b.UploadBatch(c.Request.Context(), user, files, nil)
	h.respondReport(c, b, user, report, err)
}

// Upload stores the multipart "file" for userId.
func (h *Handler) Upload(c *gin.Context) {
	user := c.Param("userId")
	fh, err := c.FormFile("file")
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}
	b, err := h.target(c)
	if err != nil {
		abortWithError(c, err, "Missing FTP server information")
		return
	}

	scratch, err := bridge.NewScratch(h.scratchDir, h.log)
	if err != nil {
		abortWithError(c, err, "Failed to upload file to FTP server")
		return
	}
	defer scratch.Close()

	files := h.saveUploads(scratch, []*multipart.FileHeader{fh})
	report, err := b.Upload(c.Request.Context(), user, files[0], nil)
	h.respondReport(c, b, user, report, err)
}

func (h *Handler) Delete(c *gin.Context) {
	user, name := c.Param("userId"), c.Param("filename")
	b, err := h.target(c)
	if err != nil {
		abortWithError(c, err, "Missing FTP server information")
		return
	}

	result, err := b.Delete(c.Request.Context(), user, name)
	if err != nil {
		abortWithError(c, err, "Failed to delete file from FTP server")
		return
	}
	if !result.Success {
		c.JSON(http.StatusNotFound, result)
		return
	}
	h.invalidate(c.Request.Context(), b, user)
	h.publish(events.Deleted, b, user, name, 0)
	c.JSON(http.StatusOK, result)
}

// statusFor maps an operation error to an HTTP status.
func statusFor(err error) int {
	switch {
	case bridge.IsInvalidArgument(err):
		return http.StatusBadRequest
	case bridge.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, wire.ErrPartialFailure):
		return http.StatusMultiStatus
	case bridge.IsTransport(err), errors.Is(err, wire.ErrProtocol):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error, message string) {
	c.Error(err)
	c.AbortWithStatusJSON(statusFor(err), gin.H{
		"success": false,
		"message": message,
		"error":   err.Error(),
	})
}

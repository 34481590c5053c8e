package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/dutchcoders/go-clamd"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"

	"freelancehub/internal/errcode"
	"freelancehub/internal/marketplace"
	"freelancehub/internal/storage"
)

const submissionLinkTTL = 15 * time.Minute

var errMaliciousFile = errors.New("malicious file detected")

type objectStore interface {
	UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error)
	StatObject(ctx context.Context, objectKey string) (storage.ObjectMeta, error)
	GeneratePresignedDownloadURL(ctx context.Context, objectKey string, duration time.Duration, filename string) (string, error)
	DeletePrefix(ctx context.Context, prefix string) error
}

type fileScanner interface {
	Scan(r io.Reader) error
}

// ClamdScanner 通过 clamd 的 INSTREAM 命令扫描上传内容。
type ClamdScanner struct {
	client *clamd.Clamd
}

// NewClamdScanner 返回扫描器；addr 为空时返回 nil，表示不扫描。
func NewClamdScanner(addr string) *ClamdScanner {
	if strings.TrimSpace(addr) == "" {
		return nil
	}
	return &ClamdScanner{client: clamd.NewClamd(addr)}
}

// Scan 发现病毒时返回 errMaliciousFile。
func (s *ClamdScanner) Scan(r io.Reader) error {
	abortChan := make(chan bool)
	defer close(abortChan)

	scanChan, err := s.client.ScanStream(r, abortChan)
	if err != nil {
		return fmt.Errorf("scan stream: %w", err)
	}

	var scanErr error
	for result := range scanChan {
		switch result.Status {
		case clamd.RES_OK:
		case clamd.RES_FOUND:
			scanErr = fmt.Errorf("%w: %s", errMaliciousFile, result.Description)
		default:
			if scanErr == nil {
				scanErr = fmt.Errorf("clamd status %s: %s", result.Status, result.Description)
			}
		}
	}
	return scanErr
}

// SubmissionFileHandler 负责交付文件的上传与下载链接。
type SubmissionFileHandler struct {
	milestones *marketplace.MilestoneService
	storage    objectStore
	scanner    fileScanner
	logger     *slog.Logger
	maxBytes   int64
}

// NewSubmissionFileHandler 构造文件处理器；scanner 为 nil 时跳过病毒扫描。
func NewSubmissionFileHandler(milestones *marketplace.MilestoneService, store objectStore, scanner fileScanner, logger *slog.Logger, maxBytes int64) *SubmissionFileHandler {
	return &SubmissionFileHandler{
		milestones: milestones,
		storage:    store,
		scanner:    scanner,
		logger:     logger,
		maxBytes:   maxBytes,
	}
}

// Upload 上传单个交付文件，返回对象 key 供提交交付时引用。
func (h *SubmissionFileHandler) Upload(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	milestoneID := c.Param("milestoneId")
	ctx := c.Request.Context()
	logger := loggerFromContext(c, h.logger).With(slog.String("milestone_id", milestoneID))

	if err := h.milestones.CanSubmit(ctx, userID, milestoneID); err != nil {
		respondError(c, logger, err)
		return
	}

	if h.maxBytes > 0 {
		// multipart 头部留出少量余量。
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+1<<20)
	}
	file, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			Error(c, http.StatusRequestEntityTooLarge, errcode.ValidationFailed, "file too large")
			return
		}
		BadRequest(c, "missing file")
		return
	}
	if file.Size <= 0 {
		BadRequest(c, "empty file")
		return
	}
	if h.maxBytes > 0 && file.Size > h.maxBytes {
		Error(c, http.StatusRequestEntityTooLarge, errcode.ValidationFailed, "file too large")
		return
	}

	if h.scanner != nil {
		fileReader, err := file.Open()
		if err != nil {
			Internal(c, "failed to open file")
			return
		}
		err = h.scanner.Scan(fileReader)
		fileReader.Close()
		if err != nil {
			if errors.Is(err, errMaliciousFile) {
				logger.Warn("malicious upload rejected", slog.String("user_id", userID), slog.Any("error", err))
				BadRequest(c, errMaliciousFile.Error())
				return
			}
			logger.Error("scan file", slog.Any("error", err))
			Internal(c, "failed to scan file")
			return
		}
	}

	fileReader, err := file.Open()
	if err != nil {
		Internal(c, "failed to open file")
		return
	}
	defer fileReader.Close()

	objectKey := marketplace.SubmissionObjectPrefix(milestoneID, userID) + uuid.NewString() + safeExtension(file.Filename)
	contentType := file.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if _, err := h.storage.UploadFile(ctx, objectKey, fileReader, file.Size, contentType); err != nil {
		logger.Error("upload file", slog.Any("error", err))
		Internal(c, "failed to upload file")
		return
	}

	OK(c, http.StatusCreated, "File uploaded", gin.H{
		"objectKey":   objectKey,
		"fileName":    path.Base(file.Filename),
		"size":        file.Size,
		"contentType": contentType,
	})
}

type submissionFileLink struct {
	File      string     `json:"file"`
	URL       string     `json:"url"`
	Stored    bool       `json:"stored"`
	Size      int64      `json:"size,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Links 为交付中的存储文件签发临时下载链接，外部 URL 原样返回。
func (h *SubmissionFileHandler) Links(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	ctx := c.Request.Context()
	logger := loggerFromContext(c, h.logger)

	submission, err := h.milestones.Submission(ctx, userID, c.Param("submissionId"))
	if err != nil {
		respondError(c, logger, err)
		return
	}

	links := make([]submissionFileLink, 0, len(submission.Files))
	for _, file := range submission.Files {
		if !marketplace.IsSubmissionObjectKey(submission.MilestoneID, submission.FreelancerID, file) {
			links = append(links, submissionFileLink{File: file, URL: file})
			continue
		}

		meta, err := h.storage.StatObject(ctx, file)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				logger.Warn("submission file missing", slog.String("objectKey", file))
				continue
			}
			logger.Error("stat submission file", slog.String("objectKey", file), slog.Any("error", err))
			Internal(c, "failed to generate url")
			return
		}

		signedURL, err := h.storage.GeneratePresignedDownloadURL(ctx, file, submissionLinkTTL, path.Base(file))
		if err != nil {
			logger.Error("generate presigned url", slog.String("objectKey", file), slog.Any("error", err))
			Internal(c, "failed to generate url")
			return
		}
		expiresAt := time.Now().Add(submissionLinkTTL).UTC()
		links = append(links, submissionFileLink{
			File:      file,
			URL:       signedURL,
			Stored:    true,
			Size:      meta.Size,
			ExpiresAt: &expiresAt,
		})
	}

	OK(c, http.StatusOK, "Submission files fetched", gin.H{"items": links})
}

// safeExtension 只保留短小的字母数字扩展名。
func safeExtension(filename string) string {
	ext := strings.ToLower(path.Ext(strings.ReplaceAll(filename, "\\", "/")))
	if len(ext) < 2 || len(ext) > 10 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

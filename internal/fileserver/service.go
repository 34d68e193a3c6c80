// Package fileserver принимает загрузки изображений и голосовых сообщений и раздаёт их из /uploads.
package fileserver

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/duochat/internal/logger"
)

// Kind ограничивает, какие файлы принимает загрузка.
type Kind int

const (
	KindImage Kind = iota
	KindAudio
)

func (k Kind) String() string {
	if k == KindAudio {
		return "audio"
	}
	return "image"
}

// PublicPrefix — путь, под которым раздаются загруженные файлы.
const PublicPrefix = "/uploads/"

// UploadResponse — ответ после успешной загрузки.
type UploadResponse struct {
	URL         string `json:"url"`
	FileName    string `json:"fileName,omitempty"`
	FileSize    int64  `json:"fileSize,omitempty"`
	ContentType string `json:"contentType,omitempty"`
}

// UploadError несёт HTTP-статус и текст для клиента.
type UploadError struct {
	Status  int
	Message string
}

func (e *UploadError) Error() string { return e.Message }

func badRequest(msg string) error {
	return &UploadError{Status: http.StatusBadRequest, Message: msg}
}

// Service обрабатывает загрузку и раздачу файлов.
type Service struct {
	UploadDir     string
	MaxUploadSize int64
}

// New создаёт сервис с заданным каталогом и лимитом размера (в байтах).
func New(uploadDir string, maxUploadSize int64) *Service {
	return &Service{UploadDir: uploadDir, MaxUploadSize: maxUploadSize}
}

// Accept читает multipart-форму с лимитом размера. Остальные поля формы
// доступны через r.FormValue после вызова.
func (s *Service) Accept(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.MaxUploadSize)
	if err := r.ParseMultipartForm(s.MaxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &UploadError{
				Status:  http.StatusRequestEntityTooLarge,
				Message: fmt.Sprintf("File is too large (max %s)", humanize.IBytes(uint64(s.MaxUploadSize))),
			}
		}
		return badRequest("invalid multipart form")
	}
	return nil
}

// Store сохраняет файл из поля field формы, уже разобранной Accept.
func (s *Service) Store(ctx context.Context, r *http.Request, field string, kind Kind) (UploadResponse, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return UploadResponse{}, badRequest(fmt.Sprintf("%s file is required", kind))
	}
	defer file.Close()
	return s.save(ctx, file, header, kind)
}

func (s *Service) save(ctx context.Context, file multipart.File, header *multipart.FileHeader, kind Kind) (UploadResponse, error) {
	head := make([]byte, 512)
	n, _ := io.ReadFull(file, head)
	head = head[:n]
	if n == 0 {
		return UploadResponse{}, badRequest("empty file")
	}
	ctype := http.DetectContentType(head)
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !accepts(kind, ctype, ext) {
		return UploadResponse{}, badRequest(fmt.Sprintf("only %s files are allowed", kind))
	}
	if ext == "" {
		ext = extByType(ctype, kind)
	}

	if err := os.MkdirAll(s.UploadDir, 0o755); err != nil {
		return UploadResponse{}, fmt.Errorf("fileserver.save mkdir: %w", err)
	}
	name := uuid.New().String() + ext
	gzPath := filepath.Join(s.UploadDir, name+".gz")
	dst, err := os.Create(gzPath)
	if err != nil {
		return UploadResponse{}, fmt.Errorf("fileserver.save create: %w", err)
	}
	gz := gzip.NewWriter(dst)
	written, copyErr := copyWithContext(ctx, gz, io.MultiReader(bytes.NewReader(head), file))
	closeErr := gz.Close()
	if err := dst.Close(); err != nil && closeErr == nil {
		closeErr = err
	}
	if copyErr != nil || closeErr != nil {
		os.Remove(gzPath)
		if copyErr != nil {
			return UploadResponse{}, fmt.Errorf("fileserver.save: %w", copyErr)
		}
		return UploadResponse{}, fmt.Errorf("fileserver.save: %w", closeErr)
	}

	logger.Infof("fileserver: stored %s %s (%s)", kind, name, humanize.IBytes(uint64(written)))
	return UploadResponse{
		URL:         PublicPrefix + name,
		FileName:    header.Filename,
		FileSize:    written,
		ContentType: ctype,
	}, nil
}

func accepts(kind Kind, ctype, ext string) bool {
	switch kind {
	case KindImage:
		return strings.HasPrefix(ctype, "image/")
	case KindAudio:
		if strings.HasPrefix(ctype, "audio/") || ctype == "application/ogg" {
			return true
		}
		// Голосовые из браузера приходят как webm-контейнер.
		return ctype == "video/webm" || (ctype == "application/octet-stream" && audioExt[ext])
	}
	return false
}

var audioExt = map[string]bool{
	".ogg": true, ".oga": true, ".webm": true, ".m4a": true, ".mp3": true, ".wav": true,
}

func extByType(ctype string, kind Kind) string {
	switch ctype {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "audio/wave":
		return ".wav"
	case "audio/mpeg":
		return ".mp3"
	case "application/ogg":
		return ".ogg"
	}
	if kind == KindAudio {
		return ".webm"
	}
	return ""
}

func contentTypeByExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".webm":
		return "audio/webm"
	case ".ogg", ".oga":
		return "audio/ogg"
	case ".m4a":
		return "audio/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	}
	return "application/octet-stream"
}

// Serve отдаёт файл по имени. Файлы хранятся сжатыми (.gz).
func (s *Service) Serve(w http.ResponseWriter, name string) {
	name = filepath.Base(name)
	if name == "." || name == "/" || strings.HasPrefix(name, ".") {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	f, err := os.Open(filepath.Join(s.UploadDir, name+".gz"))
	if err != nil {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		http.Error(w, "failed to read file", http.StatusInternalServerError)
		return
	}
	defer gz.Close()
	w.Header().Set("Content-Type", contentTypeByExt(filepath.Ext(name)))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, gz); err != nil {
		logger.Errorf("fileserver.Serve %s: %v", name, err)
	}
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var total int64
	for {
		select {
		case <-ctx.Done():
			return total, fmt.Errorf("upload cancelled: %w", ctx.Err())
		default:
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return total, fmt.Errorf("write: %w", err)
			}
			total += int64(n)
		}
		if readErr == io.EOF {
			return total, nil
		}
		if readErr != nil {
			return total, fmt.Errorf("read: %w", readErr)
		}
	}
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrArtifactNotFound возвращается, когда файла нет в хранилище.
var ErrArtifactNotFound = errors.New("storage: файл не найден")

// ArtifactStorage - файловое хранилище сгенерированных документов (счетов).
type ArtifactStorage struct {
	rootPath     string
	maxFileBytes int64
}

// NewArtifactStorage создаёт файловое хранилище.
func NewArtifactStorage(rootPath string, maxFileMB int64) (*ArtifactStorage, error) {
	if err := os.MkdirAll(rootPath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: не удалось создать каталог %s: %w", rootPath, err)
	}
	if maxFileMB <= 0 {
		maxFileMB = 10
	}

	return &ArtifactStorage{
		rootPath:     rootPath,
		maxFileBytes: maxFileMB * 1024 * 1024,
	}, nil
}

// Save атомарно записывает файл dir/name и возвращает относительный путь.
// Существующий файл с тем же именем заменяется.
func (s *ArtifactStorage) Save(ctx context.Context, dir, name string, r io.Reader) (string, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	relative := filepath.Join(sanitizeSegment(dir, "misc"), sanitizeSegment(name, "artifact"))
	targetPath := filepath.Join(s.rootPath, relative)
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return "", 0, fmt.Errorf("storage: не удалось создать каталог: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(targetPath), ".upload-*")
	if err != nil {
		return "", 0, fmt.Errorf("storage: не удалось создать файл: %w", err)
	}
	tempPath := f.Name()
	defer f.Close()

	limitedReader := io.LimitedReader{R: r, N: s.maxFileBytes + 1}
	written, err := io.Copy(f, &limitedReader)
	if err != nil {
		_ = os.Remove(tempPath)
		return "", 0, fmt.Errorf("storage: ошибка записи файла: %w", err)
	}

	if written > s.maxFileBytes {
		_ = os.Remove(tempPath)
		return "", 0, fmt.Errorf("storage: размер файла превышает лимит %d байт", s.maxFileBytes)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tempPath)
		return "", 0, fmt.Errorf("storage: ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		_ = os.Remove(tempPath)
		return "", 0, fmt.Errorf("storage: не удалось переименовать файл: %w", err)
	}

	return relative, written, nil
}

// Open открывает файл по относительному пути.
func (s *ArtifactStorage) Open(ctx context.Context, relativePath string) (*os.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	target, err := s.resolve(relativePath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrArtifactNotFound
		}
		return nil, fmt.Errorf("storage: не удалось открыть файл: %w", err)
	}
	return f, nil
}

// Delete удаляет файл из хранилища.
func (s *ArtifactStorage) Delete(ctx context.Context, relativePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	target, err := s.resolve(relativePath)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: не удалось удалить файл: %w", err)
	}
	return nil
}

// resolve не даёт выйти за пределы корня хранилища.
func (s *ArtifactStorage) resolve(relativePath string) (string, error) {
	target := filepath.Join(s.rootPath, filepath.Clean("/"+relativePath))
	root := filepath.Clean(s.rootPath) + string(os.PathSeparator)
	if !strings.HasPrefix(target, root) {
		return "", ErrArtifactNotFound
	}
	return target, nil
}

// sanitizeSegment удаляет потенциально опасные символы.
func sanitizeSegment(name, fallback string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "..", "")
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	if name == "" || name == "." {
		name = fallback
	}
	return name
}

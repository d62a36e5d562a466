package activity

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore 以 JSON Lines 格式把事件追加到本地文件，适合单机部署。
type FileStore struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// NewFileStore 打开（必要时创建）事件文件。
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("活动事件文件路径为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建事件目录失败: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("打开事件文件失败: %w", err)
	}
	return &FileStore{path: path, file: file}, nil
}

// Append 追加一条事件。
func (s *FileStore) Append(_ context.Context, e Event) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("编码活动事件失败: %w", err)
	}
	line = append(line, '\n')
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return ErrClosed
	}
	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("写入事件文件失败: %w", err)
	}
	return nil
}

// Since 顺序扫描文件，返回 seq 大于 afterSeq 的前 limit 条事件。
func (s *FileStore) Since(ctx context.Context, afterSeq uint64, limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("读取事件文件失败: %w", err)
	}
	defer file.Close()

	var out []Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("解析事件文件失败: %w", err)
		}
		if e.Seq <= afterSeq {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("扫描事件文件失败: %w", err)
	}
	return out, nil
}

// Close 关闭文件句柄。
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

package persistence

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStateStore 是基于文件的 StateStore，适合单节点部署.
// 每个线程与命名空间各占一个文件，写入采用临时文件 + 重命名保证原子性.
// 读取走内存缓存，启动时从磁盘全量加载.
type FileStateStore struct {
	*MemoryStateStore
	threadDir string
	prefDir   string
}

// NewFileStateStore 创建文件存储并加载已有数据.
func NewFileStateStore(config StoreConfig) (*FileStateStore, error) {
	threadDir := filepath.Join(config.BaseDir, "threads")
	prefDir := filepath.Join(config.BaseDir, "preferences")
	for _, dir := range []string{threadDir, prefDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create state store directory: %w", err)
		}
	}

	s := &FileStateStore{
		MemoryStateStore: NewMemoryStateStore(),
		threadDir:        threadDir,
		prefDir:          prefDir,
	}
	if err := s.loadFromDisk(); err != nil {
		return nil, fmt.Errorf("failed to load state from disk: %w", err)
	}

	s.hooks = writeHooks{
		putThread:    s.writeThread,
		deleteThread: s.removeThread,
		putMemory:    s.writeMemory,
	}
	return s, nil
}

// 文件名使用 URL 安全的 base64，线程 id 可以包含任意字符.
func encodeName(name string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(name))
}

func (s *FileStateStore) loadFromDisk() error {
	threadFiles, err := filepath.Glob(filepath.Join(s.threadDir, "*.json"))
	if err != nil {
		return err
	}
	for _, path := range threadFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var rec ThreadRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		s.threads[rec.ThreadID] = &rec
	}

	prefFiles, err := filepath.Glob(filepath.Join(s.prefDir, "*.txt"))
	if err != nil {
		return err
	}
	for _, path := range prefFiles {
		raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSuffix(filepath.Base(path), ".txt"))
		if err != nil {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		s.prefs[string(raw)] = string(data)
	}
	return nil
}

// atomicWrite 原子写: 写入临时文件后重命名
func atomicWrite(path string, data []byte) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tempPath, path)
}

func (s *FileStateStore) writeThread(rec *ThreadRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(filepath.Join(s.threadDir, encodeName(rec.ThreadID)+".json"), data)
}

func (s *FileStateStore) removeThread(threadID string) error {
	err := os.Remove(filepath.Join(s.threadDir, encodeName(threadID)+".json"))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *FileStateStore) writeMemory(namespace, content string) error {
	return atomicWrite(filepath.Join(s.prefDir, encodeName(namespace)+".txt"), []byte(content))
}

// Ensure FileStateStore implements StateStore.
var _ StateStore = (*FileStateStore)(nil)

package persist

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// ErrUnavailable 存储介质不可用
	ErrUnavailable = errors.New("persistence unavailable")
	// ErrNotOpen 尚未打开会话
	ErrNotOpen = errors.New("no open session")
)

// Store 边缘持久化协作者：只追加的文本行写入器
type Store interface {
	// Open 开始一个新会话（关闭之前的会话）；目标文件创建失败即返回错误
	Open(name string) error
	// Append 追加一条记录
	Append(r Record) error
	// Ready 存储是否可用
	Ready() bool
	Close() error
}

// FileConfig 文件存储配置
type FileConfig struct {
	Dir        string
	MaxSizeMB  int
	MaxBackups int
	Compress   bool
}

// FileStore 基于 lumberjack 的滚动文件存储
type FileStore struct {
	cfg    FileConfig
	logger *zap.Logger

	mu        sync.Mutex
	available bool
	current   *lumberjack.Logger
	name      string
	written   int64
}

var _ Store = (*FileStore)(nil)

// NewFileStore 创建目录并探测可写性；不可写时 Ready 为 false。
// 之后每次 Open 都会真正创建目标文件，介质移除或恢复在 Open 时反映到 Ready。
func NewFileStore(cfg FileConfig, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 64
	}
	s := &FileStore{cfg: cfg, logger: logger}
	s.available = s.probe() == nil
	return s
}

func (s *FileStore) probe() error {
	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		s.logger.Warn("persistence dir not available", zap.String("dir", s.cfg.Dir), zap.Error(err))
		return err
	}
	f, err := os.CreateTemp(s.cfg.Dir, ".probe-*")
	if err != nil {
		s.logger.Warn("persistence dir not writable", zap.String("dir", s.cfg.Dir), zap.Error(err))
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

func (s *FileStore) Open(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		_ = s.current.Close()
		s.current = nil
	}
	s.name = ""
	s.written = 0
	if !s.available {
		// 介质可能已重新插入
		if s.probe() != nil {
			return ErrUnavailable
		}
		s.available = true
	}
	w := &lumberjack.Logger{
		Filename:   filepath.Join(s.cfg.Dir, name),
		MaxSize:    s.cfg.MaxSizeMB,
		MaxBackups: s.cfg.MaxBackups,
		Compress:   s.cfg.Compress,
	}
	// lumberjack 首次写入时才创建文件，空写入让创建失败在这里暴露
	if _, err := w.Write(nil); err != nil {
		s.available = false
		s.logger.Warn("open persistence session failed", zap.String("file", w.Filename), zap.Error(err))
		return fmt.Errorf("%w: open %s: %v", ErrUnavailable, name, err)
	}
	s.current = w
	s.name = name
	s.logger.Info("persistence session opened", zap.String("file", w.Filename))
	return nil
}

func (s *FileStore) Append(r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ErrNotOpen
	}
	n, err := s.current.Write([]byte(r.Line() + "\n"))
	if err != nil {
		s.available = false
		return fmt.Errorf("append %s: %w", s.name, err)
	}
	s.written += int64(n)
	return nil
}

func (s *FileStore) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

// Written 当前会话已写入的字节数
func (s *FileStore) Written() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Name 当前会话文件名
func (s *FileStore) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	err := s.current.Close()
	s.current = nil
	return err
}

// MemoryStore 内存存储（仿真与测试）
type MemoryStore struct {
	mu       sync.Mutex
	ready    bool
	sessions map[string][]Record
	current  string
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(ready bool) *MemoryStore {
	return &MemoryStore{ready: ready, sessions: make(map[string][]Record)}
}

// SetReady 模拟介质插拔
func (m *MemoryStore) SetReady(ready bool) {
	m.mu.Lock()
	m.ready = ready
	m.mu.Unlock()
}

func (m *MemoryStore) Open(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ready {
		return ErrUnavailable
	}
	m.current = name
	if _, ok := m.sessions[name]; !ok {
		m.sessions[name] = nil
	}
	return nil
}

func (m *MemoryStore) Append(r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ready {
		return ErrUnavailable
	}
	if m.current == "" {
		return ErrNotOpen
	}
	m.sessions[m.current] = append(m.sessions[m.current], r)
	return nil
}

func (m *MemoryStore) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.current = ""
	m.mu.Unlock()
	return nil
}

// Records 某会话的全部记录副本
func (m *MemoryStore) Records(name string) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.sessions[name]...)
}

// Current 当前会话名
func (m *MemoryStore) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

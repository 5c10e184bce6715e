package micrometrics

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// persistedState 为落盘文件的结构。
type persistedState struct {
	SavedAt time.Time         `json:"saved_at"`
	Series  map[string]Series `json:"series"`
}

// Persist 把全部序列原子写入磁盘。
// 距上次写入不足最小间隔时直接跳过，返回 false；写入期间不持有序列锁。
func (s *Store) Persist() (bool, error) {
	s.persistMu.Lock()
	now := s.clock()
	if !s.lastPersist.IsZero() && now.Sub(s.lastPersist) < s.cfg.PersistInterval {
		s.persistMu.Unlock()
		return false, nil
	}
	prev := s.lastPersist
	s.lastPersist = now
	s.persistMu.Unlock()

	if err := s.persistNow(now); err != nil {
		// 失败不消耗节流窗口，下一次调用立即重试。
		s.persistMu.Lock()
		if s.lastPersist.Equal(now) {
			s.lastPersist = prev
		}
		s.persistMu.Unlock()
		return false, err
	}
	return true, nil
}

// PersistNow 绕过最小间隔立即落盘，用于进程退出前的最终保存。
func (s *Store) PersistNow() error {
	now := s.clock()

	s.persistMu.Lock()
	s.lastPersist = now
	s.persistMu.Unlock()

	return s.persistNow(now)
}

func (s *Store) persistNow(now time.Time) error {
	state := persistedState{
		SavedAt: now,
		Series:  make(map[string]Series),
	}

	s.globalMu.RLock()
	stores := make(map[string]*symbolSeries, len(s.series))
	for symbol, store := range s.series {
		stores[symbol] = store
	}
	s.globalMu.RUnlock()

	for symbol, store := range stores {
		store.mu.Lock()
		if store.series.Len() > 0 {
			state.Series[symbol] = store.series.clone()
		}
		store.mu.Unlock()
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("序列化微观指标状态失败: %w", err)
	}

	dir := filepath.Dir(s.cfg.PersistPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("创建持久化目录失败: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.cfg.PersistPath)+".tmp-*")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("写入临时文件失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("关闭临时文件失败: %w", err)
	}

	if err := os.Rename(tmpPath, s.cfg.PersistPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("替换持久化文件失败: %w", err)
	}

	s.logger.Debug("微观指标状态已落盘",
		zap.String("path", s.cfg.PersistPath),
		zap.Int("symbols", len(state.Series)),
	)
	return nil
}

// Load 在启动时恢复持久化状态。
// 文件缺失或损坏都按冷启动处理，损坏文件改名为 .corrupt 保留现场。
func (s *Store) Load() error {
	data, err := os.ReadFile(s.cfg.PersistPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Info("未找到持久化文件，从空状态启动", zap.String("path", s.cfg.PersistPath))
			return nil
		}
		return fmt.Errorf("读取持久化文件失败: %w", err)
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		corruptPath := s.cfg.PersistPath + ".corrupt"
		if renameErr := os.Rename(s.cfg.PersistPath, corruptPath); renameErr != nil {
			s.logger.Warn("备份损坏文件失败", zap.String("path", corruptPath), zap.Error(renameErr))
		}
		s.logger.Warn("持久化文件损坏，从空状态启动",
			zap.String("path", s.cfg.PersistPath),
			zap.String("backup", corruptPath),
			zap.Error(err),
		)
		return nil
	}

	loaded := 0
	for symbol, series := range state.Series {
		if !series.aligned() {
			s.logger.Warn("持久化序列长度不一致，跳过", zap.String("symbol", symbol))
			continue
		}

		series.truncate(s.capacity)

		store := s.symbolStore(symbol)
		store.mu.Lock()
		store.series = series
		store.mu.Unlock()
		loaded++
	}

	s.logger.Info("微观指标状态加载完成",
		zap.String("path", s.cfg.PersistPath),
		zap.Int("symbols", loaded),
		zap.Time("saved_at", state.SavedAt),
	)
	return nil
}

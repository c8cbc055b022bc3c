package service

import (
	"sync"

	"pupctl/internal/models"
)

type LogBuffer struct {
	mu         sync.RWMutex
	entries    []models.LogEntry
	maxEntries int
}

func NewLogBuffer(maxEntries int) *LogBuffer {
	return &LogBuffer{
		entries:    make([]models.LogEntry, 0, maxEntries),
		maxEntries: maxEntries,
	}
}

func (lb *LogBuffer) Add(entry models.LogEntry) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.entries = append(lb.entries, entry)
	if len(lb.entries) > lb.maxEntries {
		lb.entries = lb.entries[len(lb.entries)-lb.maxEntries:]
	}
}

func (lb *LogBuffer) GetLast(n int) []models.LogEntry {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	return lastN(lb.entries, n)
}

func (lb *LogBuffer) GetByLevel(level string, n int) []models.LogEntry {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	var filtered []models.LogEntry
	for _, e := range lb.entries {
		if e.Level == level {
			filtered = append(filtered, e)
		}
	}
	return lastN(filtered, n)
}

// GetByProcess scans the whole buffer, newest entries last.
func (lb *LogBuffer) GetByProcess(name string, n int) []models.LogEntry {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	var filtered []models.LogEntry
	for _, e := range lb.entries {
		if e.Process == name {
			filtered = append(filtered, e)
		}
	}
	return lastN(filtered, n)
}

func lastN(entries []models.LogEntry, n int) []models.LogEntry {
	if n <= 0 || len(entries) == 0 {
		return []models.LogEntry{}
	}

	start := 0
	if len(entries) > n {
		start = len(entries) - n
	}

	result := make([]models.LogEntry, len(entries[start:]))
	copy(result, entries[start:])
	return result
}

// Package storage keeps an append-only JSON lines journal, organised in one
// directory per UTC day.
package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

const closeTimeout = 5 * time.Second

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("journal is closed")

// ErrFull is returned by Write when the buffer is full; the record is dropped.
var ErrFull = errors.New("journal buffer full")

// Journal writes records asynchronously to baseDir/<date>/<name>.jsonl.
type Journal struct {
	baseDir   string
	name      string
	maxSizeMB int
	now       func() time.Time

	writeCh chan any
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once

	mu          sync.Mutex
	currentDate string
	logger      *lumberjack.Logger
}

// NewJournal starts a journal writer.
func NewJournal(baseDir, name string, bufferSize, maxSizeMB int) *Journal {
	j := &Journal{
		baseDir:   baseDir,
		name:      name,
		maxSizeMB: maxSizeMB,
		now:       time.Now,
		writeCh:   make(chan any, bufferSize),
		done:      make(chan struct{}),
	}

	j.wg.Add(1)
	go j.writeLoop()

	return j
}

// Write queues a record for async writing. It never blocks.
func (j *Journal) Write(record any) error {
	select {
	case <-j.done:
		return ErrClosed
	default:
	}
	select {
	case j.writeCh <- record:
		return nil
	default:
		slog.Warn("journal write buffer full, dropping record", "journal", j.name)
		return ErrFull
	}
}

// Close stops the writer after flushing queued records.
func (j *Journal) Close() error {
	j.once.Do(func() { close(j.done) })
	j.wg.Wait()

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.logger != nil {
		err := j.logger.Close()
		j.logger = nil
		return err
	}
	return nil
}

func (j *Journal) writeLoop() {
	defer j.wg.Done()

	for {
		select {
		case record := <-j.writeCh:
			j.writeRecord(record)
		case <-j.done:
			j.drain()
			return
		}
	}
}

func (j *Journal) drain() {
	timeout := time.After(closeTimeout)
	for {
		select {
		case record := <-j.writeCh:
			j.writeRecord(record)
		case <-timeout:
			slog.Warn("journal close timeout, some records may be lost", "journal", j.name)
			return
		default:
			return
		}
	}
}

func (j *Journal) writeRecord(record any) {
	data, err := json.Marshal(record)
	if err != nil {
		slog.Error("journal marshal failed", "journal", j.name, "error", err)
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	date := j.now().UTC().Format("2006-01-02")
	if date != j.currentDate || j.logger == nil {
		if err := j.rotateForDate(date); err != nil {
			slog.Error("journal rotate failed", "journal", j.name, "error", err)
			return
		}
	}

	if _, err := j.logger.Write(append(data, '\n')); err != nil {
		slog.Error("journal write failed", "journal", j.name, "error", err)
	}
}

func (j *Journal) rotateForDate(date string) error {
	if j.logger != nil {
		if err := j.logger.Close(); err != nil {
			slog.Debug("journal close previous file failed", "error", err)
		}
		j.logger = nil
	}

	dir := filepath.Join(j.baseDir, date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}

	filename := filepath.Join(dir, j.name+".jsonl")
	j.logger = &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    j.maxSizeMB,
		MaxBackups: 100,
		MaxAge:     30,
		Compress:   false,
		LocalTime:  false,
	}
	j.currentDate = date
	slog.Debug("journal file opened", "file", filename)
	return nil
}

// Recent returns up to limit records, newest first. Only the live file of
// each day is read; rotated backups are left out.
func (j *Journal) Recent(limit int) ([]json.RawMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	files, err := filepath.Glob(filepath.Join(j.baseDir, "*", j.name+".jsonl"))
	if err != nil {
		return nil, err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))

	j.mu.Lock()
	defer j.mu.Unlock()

	var out []json.RawMessage
	for _, file := range files {
		lines, err := readLines(file)
		if err != nil {
			return nil, err
		}
		for i := len(lines) - 1; i >= 0 && len(out) < limit; i-- {
			out = append(out, lines[i])
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func readLines(file string) ([]json.RawMessage, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []json.RawMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || !json.Valid(line) {
			continue
		}
		lines = append(lines, append(json.RawMessage(nil), line...))
	}
	return lines, scanner.Err()
}

// Package logger — логирование с префиксом сервиса и асинхронной записью.
// Запись идёт через буферизованный канал и одну горутину, вызывающий код не блокируется.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

const asyncBufferSize = 8192

type level int

const (
	levelDebug level = iota
	levelInfo
)

// entry — строка лога либо запрос на сброс очереди (flushed != nil).
type entry struct {
	msg     string
	flushed chan struct{}
}

var (
	mu       sync.RWMutex
	prefix   string
	logLevel = levelInfo
	out      = log.New(os.Stderr, "", log.LstdFlags)

	ch   chan entry
	once sync.Once
)

func initWorker() {
	applyLevel(os.Getenv("LOG_LEVEL"))
	ch = make(chan entry, asyncBufferSize)
	go func() {
		for e := range ch {
			if e.flushed != nil {
				close(e.flushed)
				continue
			}
			mu.RLock()
			l := out
			mu.RUnlock()
			l.Print(e.msg)
		}
	}()
}

func enqueue(msg string) {
	once.Do(initWorker)
	select {
	case ch <- entry{msg: msg}:
	default:
		// Буфер полон — строка теряется.
	}
}

// SetLevel переключает уровень: "debug"/"trace" — подробно, иначе info.
func SetLevel(l string) {
	once.Do(initWorker)
	applyLevel(l)
}

func applyLevel(l string) {
	mu.Lock()
	defer mu.Unlock()
	switch strings.ToLower(strings.TrimSpace(l)) {
	case "debug", "trace":
		logLevel = levelDebug
	default:
		logLevel = levelInfo
	}
}

func debugEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return logLevel == levelDebug
}

// SetPrefix задаёт префикс для всех последующих логов ("api", "push").
func SetPrefix(p string) {
	mu.Lock()
	prefix = p
	mu.Unlock()
}

// SetOutput перенаправляет вывод (тесты, файл).
func SetOutput(w io.Writer) {
	mu.Lock()
	out = log.New(w, "", 0)
	mu.Unlock()
}

func tag() string {
	mu.RLock()
	defer mu.RUnlock()
	if prefix == "" {
		return ""
	}
	return "[" + prefix + "] "
}

func Info(v ...any) {
	enqueue(tag() + fmt.Sprint(v...))
}

func Infof(format string, v ...any) {
	enqueue(tag() + fmt.Sprintf(format, v...))
}

func Error(v ...any) {
	enqueue(tag() + "ERROR: " + fmt.Sprint(v...))
}

func Errorf(format string, v ...any) {
	enqueue(tag() + "ERROR: " + fmt.Sprintf(format, v...))
}

// Debugf пишет только при уровне debug.
func Debugf(format string, v ...any) {
	once.Do(initWorker)
	if !debugEnabled() {
		return
	}
	enqueue(tag() + "DEBUG: " + fmt.Sprintf(format, v...))
}

// Flush ждёт, пока горутина запишет всё, что было в очереди на момент вызова.
// Возвращает false, если не уложились в timeout.
func Flush(timeout time.Duration) bool {
	once.Do(initWorker)
	done := make(chan struct{})
	select {
	case ch <- entry{flushed: done}:
	case <-time.After(timeout):
		return false
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Fatalf пишет ошибку, сбрасывает очередь и завершает процесс с кодом 1.
func Fatalf(format string, v ...any) {
	Errorf(format, v...)
	Flush(time.Second)
	os.Exit(1)
}

// LogDuration логирует имя функции и время выполнения в миллисекундах.
// На уровне info — только вызовы дольше 100ms, на debug — все.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	if debugEnabled() || elapsed >= 100*time.Millisecond {
		enqueue(fmt.Sprintf("%sfn=%s duration_ms=%d", tag(), fn, elapsed.Milliseconds()))
	}
}

// DeferLogDuration — для defer: defer logger.DeferLogDuration("chat.GetByID", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
